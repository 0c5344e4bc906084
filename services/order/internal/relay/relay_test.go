package relay

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"example.com/order-events/pkg/circuitbreaker"
	"example.com/order-events/pkg/kafka"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/testutil"
)

func TestMain(m *testing.M) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	os.Exit(m.Run())
}

// =============================================================================
// Моки
// =============================================================================

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) GetPending(ctx context.Context, limit int) ([]*broker.Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*broker.Record), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	return m.Called(ctx, id, cause).Error(0)
}

func (m *mockRepository) MarkFinal(ctx context.Context, id, status string) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockRepository) CountByTopic(ctx context.Context, topic, status string) (int64, error) {
	args := m.Called(ctx, topic, status)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockKafkaProducer struct {
	mock.Mock
}

func (m *mockKafkaProducer) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockKafkaProducer) SendToDLQ(ctx context.Context, original *kafka.Message, cause error) error {
	return m.Called(ctx, original, cause).Error(0)
}

func orderRecord(id string) *broker.Record {
	return &broker.Record{
		ID:           id,
		Topic:        "ORDERUSER.ORDERQUEUE",
		MessageID:    1,
		Payload:      []byte(`{"orderId":"O-100","itemId":"I-9"}`),
		Properties:   map[string]int{broker.PropertyID: 1, broker.PropertyPriority: 2},
		Headers:      map[string]string{},
		Priority:     2,
		DeliveryMode: broker.Persistent,
		Status:       broker.StatusPending,
	}
}

// =============================================================================
// KafkaTopic
// =============================================================================

func TestKafkaTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		source string
		want   string
	}{
		{"без префикса", "", "ORDERUSER.ORDERQUEUE", "orderuser.orderqueue"},
		{"с префиксом", "prod.", "ORDERUSER.ORDERQUEUE", "prod.orderuser.orderqueue"},
		{"спецсимволы", "", "ORDER$USER.Q#1", "order_user.q_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KafkaTopic(tt.prefix, tt.source))
		})
	}
}

// =============================================================================
// ProcessSingle
// =============================================================================

func TestProcessSingle_Success(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	// Заголовки как после publisher: traceparent span'а продюсера.
	parentCtx, parent := tp.Tracer("test").Start(ctx, "publish")
	record := orderRecord("msg-1")
	kafka.InjectHeaders(parentCtx, record.Headers)
	record.Headers[kafka.HeaderECID] = parent.SpanContext().TraceID().String()
	parent.End()

	var sent *kafka.Message
	producer.On("SendMessage", mock.Anything, mock.AnythingOfType("*kafka.Message")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*kafka.Message) }).
		Return(nil)
	repo.On("MarkProcessed", mock.Anything, "msg-1").Return(nil)

	r := New(repo, producer, Config{BatchSize: 10, MaxRetries: 3, TopicPrefix: "dev."}, WithTracerProvider(tp))

	require.NoError(t, r.ProcessSingle(ctx, record))

	require.NotNil(t, sent)
	assert.Equal(t, "dev.orderuser.orderqueue", sent.Topic)
	assert.Equal(t, "O-100", string(sent.Key))
	assert.Equal(t, record.Payload, sent.Value)
	assert.Equal(t, "ORDERUSER.ORDERQUEUE", sent.Headers[kafka.HeaderSourceTopic])
	assert.Equal(t, "1", sent.Headers[kafka.HeaderMessageID])
	assert.Equal(t, "2", sent.Headers[kafka.HeaderPriority])
	assert.Equal(t, record.Headers[kafka.HeaderECID], sent.Headers[kafka.HeaderECID])

	// Span ретранслятора — потомок span'а продюсера, его контекст уходит в Kafka.
	var relaySpan sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.SpanKind() == trace.SpanKindConsumer {
			relaySpan = s
		}
	}
	require.NotNil(t, relaySpan)
	assert.Equal(t, parent.SpanContext().TraceID(), relaySpan.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), relaySpan.Parent().SpanID())
	assert.Contains(t, sent.Headers[kafka.HeaderTraceParent], relaySpan.SpanContext().SpanID().String())

	// Исходные заголовки записи не изменены.
	assert.NotContains(t, record.Headers, kafka.HeaderSourceTopic)

	producer.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestProcessSingle_KeyFallsBackToRecordID(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	record := orderRecord("msg-1")
	record.Payload = []byte(`not json`)

	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(m *kafka.Message) bool {
		return string(m.Key) == "msg-1"
	})).Return(nil)
	repo.On("MarkProcessed", mock.Anything, "msg-1").Return(nil)

	r := New(repo, producer, DefaultConfig())
	require.NoError(t, r.ProcessSingle(context.Background(), record))

	producer.AssertExpectations(t)
}

func TestProcessSingle_SendError(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	sendErr := errors.New("kafka unavailable")
	producer.On("SendMessage", mock.Anything, mock.Anything).Return(sendErr)
	repo.On("MarkFailed", mock.Anything, "msg-1", sendErr).Return(nil)

	r := New(repo, producer, DefaultConfig())
	err := r.ProcessSingle(context.Background(), orderRecord("msg-1"))

	assert.ErrorIs(t, err, sendErr)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestProcessSingle_Expired(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Second)
	record := orderRecord("msg-1")
	record.ExpiresAt = &expires

	repo.On("MarkFinal", mock.Anything, "msg-1", broker.StatusExpired).Return(nil)

	r := New(repo, producer, DefaultConfig(), WithClock(func() time.Time { return now }))
	require.NoError(t, r.ProcessSingle(context.Background(), record))

	repo.AssertExpectations(t)
	producer.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestProcessSingle_DeadLetter(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	lastErr := "leader not available"
	record := orderRecord("msg-dead")
	record.RetryCount = 3
	record.LastError = &lastErr

	producer.On("SendToDLQ", mock.Anything, mock.AnythingOfType("*kafka.Message"), mock.MatchedBy(func(err error) bool {
		return err.Error() == lastErr
	})).Return(nil)
	repo.On("MarkFinal", mock.Anything, "msg-dead", broker.StatusDead).Return(nil)

	r := New(repo, producer, Config{BatchSize: 10, MaxRetries: 3})
	require.NoError(t, r.ProcessSingle(context.Background(), record))

	producer.AssertExpectations(t)
	repo.AssertExpectations(t)
	producer.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestProcessSingle_DeadLetterSendFails(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	record := orderRecord("msg-dead")
	record.RetryCount = 5

	producer.On("SendToDLQ", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("dlq down"))

	r := New(repo, producer, DefaultConfig())
	assert.Error(t, r.ProcessSingle(context.Background(), record))

	repo.AssertNotCalled(t, "MarkFinal", mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// processBatch
// =============================================================================

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)
	cfg := Config{PollInterval: 10 * time.Millisecond, BatchSize: 10, MaxRetries: 5}

	records := []*broker.Record{orderRecord("msg-1"), orderRecord("msg-2")}

	repo.On("GetPending", ctx, cfg.BatchSize).Return(records, nil)
	producer.On("SendMessage", mock.Anything, mock.Anything).Return(nil).Times(2)
	repo.On("MarkProcessed", mock.Anything, "msg-1").Return(nil)
	repo.On("MarkProcessed", mock.Anything, "msg-2").Return(nil)

	r := New(repo, producer, cfg)
	assert.Equal(t, 2, r.processBatch(ctx))

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestProcessBatch_Empty(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	repo.On("GetPending", ctx, mock.AnythingOfType("int")).Return([]*broker.Record{}, nil)

	r := New(repo, producer, DefaultConfig())
	assert.Equal(t, 0, r.processBatch(ctx))

	producer.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestProcessBatch_ReadError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)

	repo.On("GetPending", ctx, mock.Anything).Return(nil, errors.New("db down"))

	r := New(repo, new(mockKafkaProducer), DefaultConfig())
	assert.Equal(t, 0, r.processBatch(ctx))
}

func TestProcessBatch_StopsWhenBreakerOpens(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockKafkaProducer)

	cb := circuitbreaker.NewWithSettings("test", circuitbreaker.Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  1,
	})

	records := []*broker.Record{orderRecord("msg-1"), orderRecord("msg-2"), orderRecord("msg-3")}
	sendErr := errors.New("broker down")

	repo.On("GetPending", ctx, mock.Anything).Return(records, nil)
	producer.On("SendMessage", mock.Anything, mock.Anything).Return(sendErr).Once()
	repo.On("MarkFailed", mock.Anything, "msg-1", sendErr).Return(nil)

	r := New(repo, producer, DefaultConfig(), WithBreaker(cb))
	assert.Equal(t, 0, r.processBatch(ctx))

	producer.AssertNumberOfCalls(t, "SendMessage", 1)
	// Отклоненные breaker'ом сообщения не тратят попытки.
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, "msg-2", mock.Anything)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, "msg-3", mock.Anything)
}

func TestCleanupProcessed(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)

	now := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	repo.On("DeleteProcessedBefore", ctx, now.Add(-cleanupRetention)).Return(int64(3), nil)

	r := New(repo, new(mockKafkaProducer), DefaultConfig(), WithClock(func() time.Time { return now }))
	r.cleanupProcessed(ctx)

	repo.AssertExpectations(t)
}

// =============================================================================
// Интеграция с топиком в SQLite
// =============================================================================

func TestRelay_CommittedMessagesOnly(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	b := broker.New()
	topic := broker.Topic{Owner: "ORDERUSER", Name: "ORDERQUEUE"}

	// Зафиксированное сообщение.
	tx := db.Begin()
	sess, err := b.Session(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, sess.Send(ctx, topic, broker.NewTextMessage(`{"orderId":"O-1"}`)))
	require.NoError(t, tx.Commit().Error)

	// Откаченное сообщение.
	tx = db.Begin()
	sess, err = b.Session(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, sess.Send(ctx, topic, broker.NewTextMessage(`{"orderId":"O-2"}`)))
	require.NoError(t, tx.Rollback().Error)

	producer := new(mockKafkaProducer)
	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(m *kafka.Message) bool {
		return string(m.Key) == "O-1" && m.Topic == "orderuser.orderqueue"
	})).Return(nil).Once()

	repo := broker.NewRepository(db)
	r := New(repo, producer, DefaultConfig())

	assert.Equal(t, 1, r.processBatch(ctx))
	assert.Equal(t, 0, r.processBatch(ctx), "повторно не отправляется")

	processed, err := repo.CountByTopic(ctx, "ORDERUSER.ORDERQUEUE", broker.StatusProcessed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processed)

	producer.AssertExpectations(t)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := new(mockRepository)
	repo.On("GetPending", mock.Anything, mock.Anything).Return([]*broker.Record{}, nil)

	r := New(repo, new(mockKafkaProducer), Config{PollInterval: 5 * time.Millisecond, BatchSize: 10, MaxRetries: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run не завершился после отмены контекста")
	}
}
