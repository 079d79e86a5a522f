package eventbus

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ymera-labs/ymera/core"
)

// NATSFanout mirrors Bus publishes onto a NATS subject (topic prefixed by
// SubjectPrefix), carrying trace context in message headers so a consumer
// in another process can continue the same span.
type NATSFanout struct {
	conn          *nats.Conn
	subjectPrefix string
	propagator    propagation.TraceContext
}

// DialNATS connects to url and returns a Fanout publishing under prefix.
func DialNATS(url, prefix string) (*NATSFanout, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSFanout{conn: conn, subjectPrefix: prefix}, nil
}

func (f *NATSFanout) subject(topic string) string {
	if f.subjectPrefix == "" {
		return topic
	}
	return f.subjectPrefix + "." + topic
}

// Publish injects the active trace context into NATS message headers and
// publishes the JSON-encoded payload.
func (f *NATSFanout) Publish(ctx context.Context, topic string, payload core.Value) error {
	body, err := payload.MarshalJSON()
	if err != nil {
		return err
	}

	hdr := nats.Header{}
	f.propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: f.subject(topic), Data: body, Header: hdr}
	return f.conn.PublishMsg(msg)
}

func (f *NATSFanout) Close() error {
	f.conn.Close()
	return nil
}

// SubscribeNATS wires remote messages on topic (under prefix) back into a
// local Bus, extracting the propagated trace context for each message and
// starting a consumer span before handing off to Bus.Publish so local
// subscribers observe fanned-in events the same way as local ones.
func SubscribeNATS(conn *nats.Conn, prefix, topic string, bus *Bus) (*nats.Subscription, error) {
	subject := topic
	if prefix != "" {
		subject = prefix + "." + topic
	}
	var propagator propagation.TraceContext
	tracer := otel.Tracer("eventbus")

	return conn.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		ctx, span := tracer.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		payload, err := core.FromJSON(m.Data)
		if err != nil {
			span.RecordError(err)
			return
		}
		bus.Publish(ctx, topic, payload)
	})
}
