package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func fakeServer(t *testing.T) []option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublishDeliversJSON(t *testing.T) {
	ctx := context.Background()
	opts := fakeServer(t)

	admin, err := pubsub.NewClient(ctx, "interpelli", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	topic, err := admin.CreateTopic(ctx, "new-notices")
	require.NoError(t, err)
	sub, err := admin.CreateSubscription(ctx, "reader", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := Open(ctx, "interpelli", "new-notices", zap.NewNop(), opts...)
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "new-notices", map[string]any{"run_id": "r1", "record": map[string]string{"school_name": "Liceo Volta"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	received := make(chan *pubsub.Message, 1)
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			received <- msg
			cancel()
		})
	}()
	msg := <-received

	var body struct {
		RunID  string            `json:"run_id"`
		Record map[string]string `json:"record"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "r1", body.RunID)
	assert.Equal(t, "Liceo Volta", body.Record["school_name"])
}

func TestOpenRejectsMissingTopic(t *testing.T) {
	ctx := context.Background()
	opts := fakeServer(t)

	_, err := Open(ctx, "interpelli", "absent", nil, opts...)
	require.ErrorContains(t, err, "does not exist")

	_, err = Open(ctx, "", "topic", nil, opts...)
	require.Error(t, err)
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	ctx := context.Background()
	opts := fakeServer(t)
	admin, err := pubsub.NewClient(ctx, "interpelli", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.CreateTopic(ctx, "t")
	require.NoError(t, err)

	pub, err := Open(ctx, "interpelli", "t", nil, opts...)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	_, err = pub.Publish(ctx, "t", map[string]any{"bad": make(chan int)})
	require.ErrorContains(t, err, "marshal payload")
}

func TestAttributeCarrier(t *testing.T) {
	t.Parallel()

	var _ propagation.TextMapCarrier = attributeCarrier{}
	carrier := attributeCarrier{}
	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}
