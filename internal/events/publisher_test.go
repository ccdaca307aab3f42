package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingEventWireFormat(t *testing.T) {
	raw, err := json.Marshal(NewListingEvent(ActionGeocoded, 42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"geocoded","property_id":"42"}`, string(raw))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewListingEvent(ActionCreate, 1)))
	assert.NoError(t, p.Close())
}

func TestAMQPPublisher_Integration(t *testing.T) {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("AMQP_URL not set; skipping RabbitMQ integration test")
	}
	p, err := NewAMQPPublisher(url, "iaimmo_test_events")
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Publish(context.Background(), NewListingEvent(ActionUpdate, 7)))
}
