package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/comunidade-maf/apiserver/config"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/mq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestRenderApproval(t *testing.T) {
	msg, err := Render(Notification{Kind: KindApproved, Email: "ana@example.com", Name: "Ana"}, "https://app.example.com/")
	require.NoError(t, err)

	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Bem-vinda à Comunidade MAF! Seu acesso foi aprovado 🎉", msg.Subject)
	assert.Contains(t, msg.HTML, "Olá, Ana!")
	assert.Contains(t, msg.HTML, "https://app.example.com/login")
}

func TestRenderRejectionDefaultsReason(t *testing.T) {
	msg, err := Render(Notification{Kind: KindRejected, Email: "bia@example.com", Name: "Bia"}, "https://app.example.com")
	require.NoError(t, err)

	assert.Equal(t, "Atualização sobre sua solicitação de acesso", msg.Subject)
	assert.Contains(t, msg.HTML, DefaultRejectionReason)
	assert.Contains(t, msg.HTML, "https://app.example.com/onboarding")
}

func TestRenderEscapesName(t *testing.T) {
	msg, err := Render(Notification{Kind: KindApproved, Email: "x@example.com", Name: "<script>"}, "")
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestQueueNotifierPublishesOnChannel(t *testing.T) {
	broker := mq.NewMemoryClient()
	queue := mq.New(broker)
	notifier := NewQueueNotifier(queue)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, notifier.NotifyAccessDecision(ctx, Notification{Kind: KindRejected, Email: "c@example.com", Name: "Carla"}))

	got := make(chan mq.Message, 1)
	go func() {
		_ = queue.Subscribe(ctx, Channel, func(_ context.Context, msg mq.Message) error {
			got <- msg
			return nil
		})
	}()

	select {
	case msg := <-got:
		var n Notification
		require.NoError(t, json.Unmarshal(msg.Data, &n))
		assert.Equal(t, KindRejected, n.Kind)
		assert.Equal(t, "rejected", msg.Attributes["kind"])
	case <-ctx.Done():
		t.Fatal("notification not published")
	}
}

func TestQueueNotifierRejectsInvalidNotification(t *testing.T) {
	notifier := NewQueueNotifier(mq.New(mq.NewMemoryClient()))
	err := notifier.NotifyAccessDecision(context.Background(), Notification{Kind: "welcome", Email: "a@example.com"})
	assert.Error(t, err)
}

func TestWorkerHandleDeliversAndCounts(t *testing.T) {
	mailer := &recordingMailer{}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	w := NewWorker(nil, NewDirectNotifier(mailer, "https://app.example.com"), m, nil)

	data, _ := json.Marshal(Notification{Kind: KindApproved, Email: "d@example.com", Name: "Dani"})
	require.NoError(t, w.Handle(context.Background(), mq.Message{ID: "1", Data: data}))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "d@example.com", mailer.sent[0].To)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("approved", "delivered")))
}

func TestWorkerHandleNacksOnMailerFailure(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	w := NewWorker(nil, NewDirectNotifier(mailer, ""), nil, nil)

	data, _ := json.Marshal(Notification{Kind: KindRejected, Email: "e@example.com"})
	assert.Error(t, w.Handle(context.Background(), mq.Message{ID: "2", Data: data}))
}

func TestWorkerHandleDropsGarbage(t *testing.T) {
	mailer := &recordingMailer{}
	w := NewWorker(nil, NewDirectNotifier(mailer, ""), nil, nil)

	assert.NoError(t, w.Handle(context.Background(), mq.Message{ID: "3", Data: []byte("{not json")}))
	assert.Empty(t, mailer.sent)
}

// fakeSMTP accepts one connection and speaks just enough SMTP to take a
// message. With stall set it accepts and never answers.
func fakeSMTP(t *testing.T, stall bool) (string, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if stall {
			_, _ = io.Copy(io.Discard, conn)
			return
		}

		r := bufio.NewReader(conn)
		reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
		reply("220 fake ready")
		var envelope strings.Builder
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 fake")
			case strings.HasPrefix(cmd, "MAIL FROM:"), strings.HasPrefix(cmd, "RCPT TO:"):
				envelope.WriteString(strings.TrimSpace(line) + "\n")
				reply("250 ok")
			case cmd == "DATA":
				reply("354 go ahead")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				data <- envelope.String() + body.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unsupported")
			}
		}
	}()
	return ln.Addr().String(), data
}

func smtpConfigFor(t *testing.T, addr string) config.MailConfig {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.MailConfig{
		From:     "Comunidade MAF <onboarding@example.com>",
		SMTPHost: host,
		SMTPPort: p,
	}
}

func TestSMTPMailerDeliversMessage(t *testing.T) {
	addr, data := fakeSMTP(t, false)
	m := NewSMTPMailer(smtpConfigFor(t, addr))

	err := m.Send(context.Background(), Email{To: "f@example.com", Subject: "Atualização", HTML: "<p>oi</p>"})
	require.NoError(t, err)

	got := <-data
	assert.Contains(t, got, "MAIL FROM:<onboarding@example.com>")
	assert.Contains(t, got, "RCPT TO:<f@example.com>")
	assert.Contains(t, got, "Subject: =?utf-8?q?")
	assert.Contains(t, got, "\r\n\r\n<p>oi</p>")
}

func TestSMTPMailerGivesUpOnStalledServer(t *testing.T) {
	addr, _ := fakeSMTP(t, true)
	m := NewSMTPMailer(smtpConfigFor(t, addr))
	m.Timeout = 100 * time.Millisecond

	start := time.Now()
	err := m.Send(context.Background(), Email{To: "f@example.com", Subject: "x", HTML: "x"})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPMailerHonoursCallerDeadline(t *testing.T) {
	addr, _ := fakeSMTP(t, true)
	m := NewSMTPMailer(smtpConfigFor(t, addr))
	m.Timeout = 0

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := m.Send(ctx, Email{To: "f@example.com", Subject: "x", HTML: "x"})
	require.Error(t, err)
}

func TestNewMailerRejectsUnknownBackend(t *testing.T) {
	_, err := NewMailer(config.MailConfig{Backend: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
