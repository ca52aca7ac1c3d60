package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/recapz-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "recapz-prod"}

	assert.Equal(t, "projects/recapz-prod/subscriptions/jobs-worker", c.resourceName(kindSubscription, " jobs-worker "))
	assert.Equal(t, "projects/other/subscriptions/jobs", c.resourceName(kindSubscription, "projects/other/subscriptions/jobs"))
	assert.Equal(t, "projects/recapz-prod/topics/jobs", c.resourceName(kindTopic, "jobs"))
	assert.Equal(t, "projects/other/topics/jobs", c.resourceName(kindTopic, "projects/other/topics/jobs"))
	assert.Equal(t, "projects/recapz-prod/topics/projects/other/subscriptions/jobs",
		c.resourceName(kindTopic, "projects/other/subscriptions/jobs"), "a subscription path is not a topic path")
	assert.Empty(t, c.resourceName(kindTopic, "  "))
	assert.Empty(t, (&Client{}).resourceName(kindTopic, "jobs"))
}

func TestLookupError(t *testing.T) {
	notFound := lookupError("topic", "rz-summary-jobs", status.Error(codes.NotFound, "gone"))
	assert.EqualError(t, notFound, `topic "rz-summary-jobs" does not exist`)

	denied := status.Error(codes.PermissionDenied, "no access")
	err := lookupError("subscription", "rz-summary-jobs-worker", denied)
	assert.True(t, errors.Is(err, denied))
	assert.Contains(t, err.Error(), "checking subscription")
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.JobsPublisher())
	assert.Nil(t, c.JobsSubscription())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
}

func TestNewClientValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	gcp := config.GCPConfig{ProjectID: "recapz-dev"}
	_, err = NewClient(ctx, gcp, config.PubSubConfig{JobsSubscription: "worker"}, nil)
	assert.ErrorIs(t, err, errTopicRequired)

	_, err = NewClient(ctx, gcp, config.PubSubConfig{JobsTopic: "jobs"}, nil)
	assert.ErrorIs(t, err, errSubscriptionReq)
}
