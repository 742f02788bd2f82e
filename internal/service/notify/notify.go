// Package notify delivers "token issued" notices to subjects in the background.
// Delivery is best effort: a failed or dropped notice never affects the issued token.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/metrics"
	"github.com/nkiryanov/examaccess/internal/models"
)

const (
	defaultCountWorkers = 4
	defaultQueueSize    = 256
	defaultSendTimeout  = 30 * time.Second // Includes retries
)

// Notification results as recorded in metrics
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Notice carries the plaintext secret to its holder
type Notice struct {
	TokenID     uuid.UUID
	Secret      string
	ValidUntil  time.Time
	ExamID      int64
	ExamTitle   string
	SubjectID   int64
	SubjectName string
	Email       string
}

func NewNotice(issued models.IssuedToken) Notice {
	return Notice{
		TokenID:     issued.Token.ID,
		Secret:      issued.Token.Secret,
		ValidUntil:  issued.Token.ValidUntil,
		ExamID:      issued.Exam.ID,
		ExamTitle:   issued.Exam.Title,
		SubjectID:   issued.Subject.ID,
		SubjectName: issued.Subject.DisplayName(),
		Email:       issued.Subject.Email,
	}
}

type Sender interface {
	Send(ctx context.Context, n Notice) error
}

type Config struct {
	Workers     int           // Default 4
	QueueSize   int           // Notices above the size are dropped. Default 256
	SendTimeout time.Duration // Default 30s
}

type Dispatcher struct {
	countWorkers int
	sendTimeout  time.Duration
	queue        chan Notice

	sender  Sender
	metrics *metrics.Metrics
	logger  logger.Logger
}

func NewDispatcher(cfg Config, sender Sender, m *metrics.Metrics, l logger.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultCountWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	return &Dispatcher{
		countWorkers: cfg.Workers,
		sendTimeout:  cfg.SendTimeout,
		queue:        make(chan Notice, cfg.QueueSize),
		sender:       sender,
		metrics:      m,
		logger:       l,
	}
}

// Enqueue schedules the notice for delivery and never blocks
// It returns false if the queue is full and the notice is dropped
func (d *Dispatcher) Enqueue(n Notice) bool {
	select {
	case d.queue <- n:
		d.metrics.SetNotificationsQueued(len(d.queue))
		return true
	default:
		d.metrics.RecordNotification(ResultDropped)
		d.logger.Warn("Notification queue is full, notice dropped", "token_id", n.TokenID, "subject_id", n.SubjectID)
		return false
	}
}

// Run starts workers. Returned channel is closed when every worker stopped
// Notices still queued when ctx is done are not delivered
func (d *Dispatcher) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range d.countWorkers {
		wg.Add(1)
		go func() {
			d.worker(ctx)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		d.logger.Debug("Notification dispatcher stopped", "undelivered", len(d.queue))
	}()

	return idleStopped
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case n := <-d.queue:
			d.metrics.SetNotificationsQueued(len(d.queue))
			d.send(ctx, n)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, n Notice) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, n); err != nil {
		d.metrics.RecordNotification(ResultFailed)
		d.logger.Error("Failed to deliver notice", "error", err, "token_id", n.TokenID, "subject_id", n.SubjectID)
		return
	}

	d.metrics.RecordNotification(ResultSent)
	d.logger.Debug("Notice delivered", "token_id", n.TokenID, "subject_id", n.SubjectID)
}

// LogSender only writes notices to the log. Used when no webhook is configured
type LogSender struct {
	Logger logger.Logger
}

func (s LogSender) Send(_ context.Context, n Notice) error {
	s.Logger.Info("Access link issued",
		"token_id", n.TokenID,
		"secret", n.Secret,
		"exam", n.ExamTitle,
		"student", n.SubjectName,
		"email", n.Email,
		"valid_until", n.ValidUntil,
	)
	return nil
}
