package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/services"
	"hearthside/comms/internal/utils"
)

// errBadEvent marks deliveries that can never succeed, however often the
// broker redelivers them. They are dropped instead of requeued.
var errBadEvent = errors.New("unprocessable event")

// Routing keys of the business lifecycle events that drive thread
// provisioning. The surrounding platform publishes these on a topic
// exchange; delivery is at-least-once, which the provisioning paths are
// idempotent against.
const (
	KeyTicketCreated       = "ticket.created"
	KeyTicketAccepted      = "ticket.accepted"
	KeyScopeOfWorkCreated  = "sow.created"
	KeyScopeOfWorkAccepted = "sow.accepted"
	KeyLeaseActivated      = "lease.activated"
)

// entityEvent is the wire shape shared by all lifecycle events. IDs travel
// as Crockford Base32 strings.
type entityEvent struct {
	TicketID     string `json:"ticket_id,omitempty"`
	ScopeID      string `json:"scope_id,omitempty"`
	LeaseID      string `json:"lease_id,omitempty"`
	ContractorID string `json:"contractor_id,omitempty"`
}

type handlerFunc func(context.Context, amqp091.Delivery) error

// Subscriber consumes lifecycle events and feeds the provisioning engine.
type Subscriber struct {
	conn         *amqp091.Connection
	ch           *amqp091.Channel
	exchange     string
	log          *slog.Logger
	provisioning services.IProvisioningService
	handlers     map[string]handlerFunc
	msgChan      chan amqp091.Delivery
	done         chan struct{}
	wg           sync.WaitGroup
	once         sync.Once
	workerCnt    int
}

// NewSubscriber opens a channel on the given connection, declares the topic
// exchange and registers the provisioning handlers.
func NewSubscriber(conn *amqp091.Connection, exchange string, logger *slog.Logger,
	provisioning services.IProvisioningService, workerCnt int) (*Subscriber, error) {

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	s := &Subscriber{
		conn:         conn,
		ch:           ch,
		exchange:     exchange,
		log:          logger,
		provisioning: provisioning,
		handlers:     make(map[string]handlerFunc),
		msgChan:      make(chan amqp091.Delivery, 64),
		done:         make(chan struct{}),
		workerCnt:    workerCnt,
	}

	s.handlers[KeyTicketCreated] = s.onTicketCreated
	s.handlers[KeyTicketAccepted] = s.onTicketAccepted
	s.handlers[KeyScopeOfWorkCreated] = s.onScopeOfWorkCreated
	s.handlers[KeyScopeOfWorkAccepted] = s.onScopeOfWorkAccepted
	s.handlers[KeyLeaseActivated] = s.onLeaseActivated
	return s, nil
}

// Start declares and binds the queue and launches the worker pool. Safe to
// call once; later calls are no-ops.
func (s *Subscriber) Start(queueName string) error {
	var startErr error
	s.once.Do(func() {
		if err := s.setupQueue(queueName); err != nil {
			startErr = err
			return
		}
		for i := 0; i < s.workerCnt; i++ {
			s.wg.Add(1)
			go s.workerLoop()
		}
		s.log.Info("provisioning subscriber started", slog.String("queue", queueName))
	})
	return startErr
}

func (s *Subscriber) setupQueue(queueName string) error {
	if err := s.ch.Qos(10, 0, false); err != nil {
		return err
	}
	q, err := s.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for key := range s.handlers {
		if err := s.ch.QueueBind(q.Name, key, s.exchange, false, nil); err != nil {
			return err
		}
	}
	msgs, err := s.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	// Closing msgChan on every exit path releases the workers, whether
	// shutdown came from Close or from the broker dropping the delivery
	// stream.
	go func() {
		defer close(s.msgChan)
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s.msgChan <- msg
			}
		}
	}()
	return nil
}

func (s *Subscriber) workerLoop() {
	defer s.wg.Done()
	for msg := range s.msgChan {
		handler, ok := s.handlers[msg.RoutingKey]
		if !ok {
			s.log.Warn("no handler", slog.String("key", msg.RoutingKey))
			_ = msg.Nack(false, false)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := handler(ctx, msg)
		cancel()
		if err != nil {
			requeue := shouldRequeue(err)
			s.log.Error("provisioning handler failed",
				slog.String("key", msg.RoutingKey), slog.Bool("requeue", requeue), slog.Any("err", err))
			_ = msg.Nack(false, requeue)
		} else {
			_ = msg.Ack(false)
		}
	}
}

// Close drains the workers and tears down the channel. The connection is
// owned by the caller.
func (s *Subscriber) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.ch.Close()
}

// shouldRequeue separates transient failures (redeliver) from events that
// will fail identically every time (drop).
func shouldRequeue(err error) bool {
	if errors.Is(err, errBadEvent) {
		return false
	}
	return apperr.KindOf(err) != apperr.KindValidation
}

func decodeEvent(d amqp091.Delivery) (*entityEvent, error) {
	var event entityEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return nil, fmt.Errorf("malformed %s event: %w: %v", d.RoutingKey, errBadEvent, err)
	}
	return &event, nil
}

func parseID(raw, field string) (utils.SixID, error) {
	id, err := utils.ParseSixID(raw)
	if err != nil {
		return utils.SixID{}, fmt.Errorf("invalid %s %q: %w: %v", field, raw, errBadEvent, err)
	}
	if id.IsZero() {
		return utils.SixID{}, fmt.Errorf("missing %s: %w", field, errBadEvent)
	}
	return id, nil
}

func (s *Subscriber) onTicketCreated(ctx context.Context, d amqp091.Delivery) error {
	event, err := decodeEvent(d)
	if err != nil {
		return err
	}
	ticketID, err := parseID(event.TicketID, "ticket_id")
	if err != nil {
		return err
	}
	return s.provisioning.TicketCreated(ctx, ticketID)
}

func (s *Subscriber) onTicketAccepted(ctx context.Context, d amqp091.Delivery) error {
	event, err := decodeEvent(d)
	if err != nil {
		return err
	}
	ticketID, err := parseID(event.TicketID, "ticket_id")
	if err != nil {
		return err
	}
	return s.provisioning.TicketAccepted(ctx, ticketID)
}

func (s *Subscriber) onScopeOfWorkCreated(ctx context.Context, d amqp091.Delivery) error {
	event, err := decodeEvent(d)
	if err != nil {
		return err
	}
	scopeID, err := parseID(event.ScopeID, "scope_id")
	if err != nil {
		return err
	}
	return s.provisioning.ScopeOfWorkCreated(ctx, scopeID)
}

func (s *Subscriber) onScopeOfWorkAccepted(ctx context.Context, d amqp091.Delivery) error {
	event, err := decodeEvent(d)
	if err != nil {
		return err
	}
	scopeID, err := parseID(event.ScopeID, "scope_id")
	if err != nil {
		return err
	}
	contractorID, err := parseID(event.ContractorID, "contractor_id")
	if err != nil {
		return err
	}
	return s.provisioning.ScopeOfWorkAccepted(ctx, scopeID, contractorID)
}

func (s *Subscriber) onLeaseActivated(ctx context.Context, d amqp091.Delivery) error {
	event, err := decodeEvent(d)
	if err != nil {
		return err
	}
	leaseID, err := parseID(event.LeaseID, "lease_id")
	if err != nil {
		return err
	}
	return s.provisioning.LeaseActivated(ctx, leaseID)
}
