package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

func sampleAppointment() AppointmentData {
	return AppointmentData{
		ID:              "a-1",
		DoctorID:        "d-1",
		PatientID:       "p-1",
		DoctorName:      "Dr. Grey",
		PatientName:     "Sam Patient",
		StartTime:       "09:00",
		EndTime:         "09:30",
		AppointmentDate: "2025-03-04",
		Status:          "confirmed",
	}
}

func sampleEvent(p Payload) Event {
	return Event{
		Payload: p,
		Recipients: []Recipient{
			{UserID: "u-doc", Name: "Dr. Grey", Email: "grey@example.com", Phone: "+15550001"},
			{UserID: "u-pat", Name: "Sam Patient", Email: "sam@example.com"},
		},
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestCreated_Message(t *testing.T) {
	p := Created(sampleAppointment(), time.Now())
	if p.Type != TypeAppointmentCreated {
		t.Errorf("expected created type, got %s", p.Type)
	}
	if p.Message != "New appointment created with Dr. Grey for Sam Patient" {
		t.Errorf("unexpected message %q", p.Message)
	}
}

func TestStatusChanged_UserAndSystem(t *testing.T) {
	a := sampleAppointment()
	at := time.Date(2025, 3, 4, 8, 0, 0, 0, time.FixedZone("X", 3600))

	user := StatusChanged(a, "pending", "u-doc", "", at)
	if user.Type != TypeAppointmentStatusChanged {
		t.Errorf("expected status changed type, got %s", user.Type)
	}
	if user.Message != "Appointment status changed from pending to confirmed" {
		t.Errorf("unexpected message %q", user.Message)
	}
	if user.Timestamp.Location() != time.UTC {
		t.Error("expected timestamp in UTC")
	}

	a.Status = "missed"
	sys := StatusChanged(a, "pending", ChangedBySystem, "auto", at)
	if sys.Type != TypeAppointmentAutoStatusChanged {
		t.Errorf("expected auto type, got %s", sys.Type)
	}
	if !strings.HasSuffix(sys.Message, "by system automation") {
		t.Errorf("unexpected message %q", sys.Message)
	}
	if sys.StatusChange.NewStatus != "missed" || sys.StatusChange.ChangedBy != ChangedBySystem {
		t.Errorf("unexpected status change %+v", sys.StatusChange)
	}
}

func TestEvent_UserIDsSkipsEmpty(t *testing.T) {
	ev := Event{Recipients: []Recipient{{UserID: "a"}, {Name: "no account"}, {UserID: "b"}}}
	ids := ev.UserIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("unexpected ids %v", ids)
	}
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func TestTemplateEngine_RenderBuiltIn(t *testing.T) {
	eng := NewTemplateEngine()
	ev := sampleEvent(StatusChanged(sampleAppointment(), "pending", "u-doc", "", time.Now()))

	subject, body, err := eng.Render("appointment-status-changed", templateData(ev.Payload, ev.Recipients[1]))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Appointment on 2025-03-04 is now confirmed" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.HasPrefix(body, "Hello Sam Patient,") || !strings.Contains(body, "from pending to confirmed") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeyLeftInPlace(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{ID: "t", Subject: "Hi {{name}}", Body: "{{missing}}"})
	subject, body, err := eng.Render("t", map[string]string{"name": "Ann"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hi Ann" || body != "{{missing}}" {
		t.Errorf("got %q / %q", subject, body)
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []Event
	err  error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type panicSink struct{}

func (panicSink) Name() string { return "panic" }
func (panicSink) Deliver(context.Context, Event) error { panic("boom") }

type blockingSink struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, Event) error {
	s.started <- struct{}{}
	<-s.release
	return nil
}

func TestDispatcher_FailingSinkDoesNotAffectOthers(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("smtp down")}
	ok := &recordingSink{name: "ok"}
	d := NewDispatcher(zerolog.Nop(), DispatcherConfig{QueueSize: 8, Workers: 2}, failing, panicSink{}, ok)

	for i := 0; i < 3; i++ {
		if !d.Publish(sampleEvent(Created(sampleAppointment(), time.Now()))) {
			t.Fatal("publish rejected")
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if failing.count() != 3 || ok.count() != 3 {
		t.Errorf("expected 3 deliveries per sink, got failing=%d ok=%d", failing.count(), ok.count())
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(zerolog.Nop(), DispatcherConfig{QueueSize: 1, Workers: 1}, sink)

	ev := sampleEvent(Created(sampleAppointment(), time.Now()))
	if !d.Publish(ev) {
		t.Fatal("first publish rejected")
	}
	<-sink.started
	if !d.Publish(ev) {
		t.Fatal("second publish should fit in the queue")
	}
	if d.Publish(ev) {
		t.Fatal("third publish should be dropped")
	}

	close(sink.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := NewDispatcher(zerolog.Nop(), DispatcherConfig{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.Publish(Event{}) {
		t.Error("expected publish to fail after close")
	}
	if err := d.Close(context.Background()); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcher_CloseHonorsContext(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(sink.release)
	d := NewDispatcher(zerolog.Nop(), DispatcherConfig{QueueSize: 4, Workers: 1}, sink)
	d.Publish(Event{})
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Sinks
// ---------------------------------------------------------------------------

type fakeRegistry struct {
	msg     interface{}
	userIDs []string
}

func (f *fakeRegistry) SendAppointmentNotification(_ context.Context, msg interface{}, userIDs []string) error {
	f.msg = msg
	f.userIDs = userIDs
	return nil
}

func TestLiveSink_PushesPayloadToRecipients(t *testing.T) {
	reg := &fakeRegistry{}
	ev := sampleEvent(Created(sampleAppointment(), time.Now()))
	if err := NewLiveSink(reg).Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	p, ok := reg.msg.(Payload)
	if !ok || p.Type != TypeAppointmentCreated {
		t.Errorf("expected created payload, got %#v", reg.msg)
	}
	if len(reg.userIDs) != 2 || reg.userIDs[0] != "u-doc" {
		t.Errorf("unexpected user ids %v", reg.userIDs)
	}
}

func TestEmailSink_SendsToRecipientsWithAddress(t *testing.T) {
	sender := &MockEmailSender{}
	ev := sampleEvent(Created(sampleAppointment(), time.Now()))
	ev.Recipients = append(ev.Recipients, Recipient{UserID: "u-x", Name: "No Email"})

	if err := NewEmailSink(sender, NewTemplateEngine()).Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	calls := sender.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(calls))
	}
	if calls[0].To != "grey@example.com" || !strings.Contains(calls[0].Subject, "2025-03-04") {
		t.Errorf("unexpected first call %+v", calls[0])
	}
}

func TestEmailSink_ReportsSenderFailure(t *testing.T) {
	sender := &MockEmailSender{ShouldFail: true, FailError: "rejected"}
	ev := sampleEvent(Created(sampleAppointment(), time.Now()))
	err := NewEmailSink(sender, NewTemplateEngine()).Deliver(context.Background(), ev)
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("expected sender error, got %v", err)
	}
}

func TestSMSSink_StatusChangesOnly(t *testing.T) {
	sender := &MockSMSSender{}
	sink := NewSMSSink(sender, NewTemplateEngine())

	if err := sink.Deliver(context.Background(), sampleEvent(Created(sampleAppointment(), time.Now()))); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(sender.Calls()) != 0 {
		t.Fatalf("expected no sms for created event, got %d", len(sender.Calls()))
	}

	ev := sampleEvent(StatusChanged(sampleAppointment(), "pending", "u-doc", "", time.Now()))
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	calls := sender.Calls()
	if len(calls) != 1 || calls[0].To != "+15550001" {
		t.Fatalf("expected one sms to the doctor, got %+v", calls)
	}
	if !strings.Contains(calls[0].Body, "pending -> confirmed") {
		t.Errorf("unexpected body %q", calls[0].Body)
	}
}

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

func TestSendGridSender(t *testing.T) {
	var sent *mail.SGMailV3
	s := &SendGridSender{
		from: mail.NewEmail("Booking", "noreply@example.com"),
		send: func(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
			sent = m
			return &rest.Response{StatusCode: 202}, nil
		},
	}
	if err := s.SendEmail(context.Background(), "sam@example.com", "Subj", "Body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent == nil || sent.Subject != "Subj" || sent.From.Address != "noreply@example.com" {
		t.Errorf("unexpected message %+v", sent)
	}

	s.send = func(context.Context, *mail.SGMailV3) (*rest.Response, error) {
		return &rest.Response{StatusCode: 401, Body: "unauthorized"}, nil
	}
	if err := s.SendEmail(context.Background(), "sam@example.com", "Subj", "Body"); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

type fakeMessages struct {
	params *openapi.CreateMessageParams
	err    error
}

func (f *fakeMessages) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = p
	return &openapi.ApiV2010Message{}, f.err
}

func TestTwilioSender(t *testing.T) {
	api := &fakeMessages{}
	s := &TwilioSender{from: "+15559999", api: api}
	if err := s.SendSMS(context.Background(), "+15550001", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.params == nil || *api.params.To != "+15550001" || *api.params.From != "+15559999" || *api.params.Body != "hi" {
		t.Errorf("unexpected params %+v", api.params)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SendSMS(ctx, "+15550001", "hi"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, got %v", err)
	}
}

type fakeChannel struct {
	mu       sync.Mutex
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeConn struct {
	ch     *fakeChannel
	notify chan *amqp.Error
}

func (c *fakeConn) Close() error { return nil }

// fakeDialer hands out a fresh channel per dial and keeps every connection so
// tests can drop them.
type fakeDialer struct {
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) dial() (amqpPublisher, io.Closer, <-chan *amqp.Error, error) {
	if d.err != nil {
		return nil, nil, nil, d.err
	}
	c := &fakeConn{ch: &fakeChannel{}, notify: make(chan *amqp.Error, 1)}
	d.conns = append(d.conns, c)
	return c.ch, c, c.notify, nil
}

func TestBrokerSink_PublishesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	s := &BrokerSink{exchange: "booking.events", ch: ch}
	at := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	if err := s.Deliver(context.Background(), sampleEvent(StatusChanged(sampleAppointment(), "pending", "doctor", "", at))); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if ch.exchange != "booking.events" || ch.key != string(TypeAppointmentStatusChanged) {
		t.Errorf("unexpected routing: exchange=%q key=%q", ch.exchange, ch.key)
	}
	if len(ch.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(ch.msgs))
	}
	msg := ch.msgs[0]
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected message properties: %+v", msg)
	}
	if msg.Headers["appointment_id"] != "a-1" {
		t.Errorf("expected appointment_id header, got %v", msg.Headers)
	}
	var p Payload
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.StatusChange == nil || p.StatusChange.OldStatus != "pending" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestBrokerSink_ReportsPublishFailure(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	s := &BrokerSink{exchange: "booking.events", ch: ch}

	err := s.Deliver(context.Background(), sampleEvent(Created(sampleAppointment(), time.Now())))
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ch.closed {
		t.Error("expected channel to be closed")
	}
}

func TestBrokerSink_RedialsAfterConnectionDrops(t *testing.T) {
	d := &fakeDialer{}
	s := &BrokerSink{exchange: "booking.events", dial: d.dial}
	ev := sampleEvent(Created(sampleAppointment(), time.Now()))

	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	if len(d.conns) != 1 {
		t.Fatalf("expected a lazy dial, got %d connections", len(d.conns))
	}

	first := d.conns[0]
	first.notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}
	close(first.notify)

	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver after drop: %v", err)
	}
	if len(d.conns) != 2 {
		t.Fatalf("expected a redial, got %d connections", len(d.conns))
	}
	if !first.ch.closed {
		t.Error("expected the dropped channel to be released")
	}
	if len(first.ch.msgs) != 1 || len(d.conns[1].ch.msgs) != 1 {
		t.Errorf("expected one message per connection, got %d and %d", len(first.ch.msgs), len(d.conns[1].ch.msgs))
	}
}

func TestBrokerSink_RedialsAfterClosedChannel(t *testing.T) {
	d := &fakeDialer{}
	s := &BrokerSink{exchange: "booking.events", dial: d.dial}
	ev := sampleEvent(Created(sampleAppointment(), time.Now()))

	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	d.conns[0].ch.err = amqp.ErrClosed
	if err := s.Deliver(context.Background(), ev); !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	d.err = errors.New("connection refused")
	if err := s.Deliver(context.Background(), ev); err == nil || !strings.Contains(err.Error(), "redial") {
		t.Fatalf("expected redial error, got %v", err)
	}

	d.err = nil
	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver after broker is back: %v", err)
	}
	if len(d.conns) != 2 || len(d.conns[1].ch.msgs) != 1 {
		t.Errorf("expected the message on a new connection, got %d connections", len(d.conns))
	}
}
