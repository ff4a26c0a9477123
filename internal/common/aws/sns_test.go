package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSNSService struct {
	mock.Mock
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sns.PublishOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestPublishJSON(t *testing.T) {
	var got *sns.PublishInput
	api := new(MockSNSService)
	api.On("Publish", mock.Anything, mock.AnythingOfType("*sns.PublishInput")).
		Run(func(args mock.Arguments) { got = args.Get(1).(*sns.PublishInput) }).
		Return(&sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil).
		Once()
	client := NewSNSClientWithAPI(api)

	id, err := client.PublishJSON(context.Background(), "arn:aws:sns:us-east-1:1:intents", "weather",
		map[string]string{"intentId": "weather"},
		map[string]string{"outcome": "matched", "empty": ""})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.NotNil(t, got)
	assert.Equal(t, "arn:aws:sns:us-east-1:1:intents", awssdk.ToString(got.TopicArn))
	assert.Equal(t, "weather", awssdk.ToString(got.Subject))

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(awssdk.ToString(got.Message)), &body))
	assert.Equal(t, "weather", body["intentId"])

	require.Len(t, got.MessageAttributes, 1)
	assert.Equal(t, "matched", awssdk.ToString(got.MessageAttributes["outcome"].StringValue))
	api.AssertExpectations(t)
}

func TestPublishJSON_Error(t *testing.T) {
	api := new(MockSNSService)
	api.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	client := NewSNSClientWithAPI(api)

	_, err := client.PublishJSON(context.Background(), "arn", "", struct{}{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
