// Package queue runs the prewarm worker: it consumes resize jobs naming raw
// uploads in S3, resolves them through the tiered pipeline so later requests
// are served from the stores, and reports progress on the status exchange.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mahirjain10/go-resizer/config"
	queueErrors "github.com/mahirjain10/go-resizer/internal/queue/errors"
	"github.com/mahirjain10/go-resizer/internal/queue/handlers"
	"github.com/mahirjain10/go-resizer/internal/queue/models"
	"github.com/mahirjain10/go-resizer/internal/types"
	"github.com/mahirjain10/go-resizer/internal/utils"
)

const (
	StatusExchange   = "image_processing"
	StatusRoutingKey = "status"
	StatusQueue      = "status_queue"

	downloadAttempts = 3
)

// RawStore reads and removes raw uploads and signs links to derived assets.
type RawStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	DeleteS3Object(ctx context.Context, key string) (bool, error)
	Presign(ctx context.Context, key string) (string, error)
}

// Publisher is satisfied by *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMqService struct {
	s3Service          RawStore
	config             *config.Config
	transformHandler   *handlers.TransformHandler
	logger             *slog.Logger
	retryDelay         time.Duration
	statusQueueChannel Publisher

	connMu       sync.Mutex
	rabbitMqConn *amqp.Connection

	cleanups sync.WaitGroup
}

func NewRabbitMqService(s3Service RawStore, resolver handlers.Resolver, config *config.Config, logger *slog.Logger) *RabbitMqService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMqService{
		s3Service:        s3Service,
		config:           config,
		transformHandler: handlers.NewTransformHandler(resolver),
		logger:           logger,
		retryDelay:       2 * time.Second,
	}
}

// setupStatusQueue declares the status exchange and queue on ch and keeps ch
// for publishing.
func (rabbitMqService *RabbitMqService) setupStatusQueue(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(StatusExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("error while declaring an exchange: %w", err)
	}
	if _, err := utils.NewQueue(ch, StatusQueue); err != nil {
		return err
	}
	if err := ch.QueueBind(StatusQueue, StatusRoutingKey, StatusExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind status queue: %w", err)
	}
	rabbitMqService.statusQueueChannel = ch
	return nil
}

// fireBackgroundCleanup deletes the raw upload when the worker is configured
// to do so. It outlives the delivery's context.
func (rabbitMqService *RabbitMqService) fireBackgroundCleanup(parentCtx context.Context, s3Key string) {
	if !rabbitMqService.config.DeleteRawAfterProcess {
		return
	}
	rabbitMqService.cleanups.Add(1)
	go func() {
		defer rabbitMqService.cleanups.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), 90*time.Second)
		defer cancel()

		if err := utils.DeleteS3Object(ctx, rabbitMqService.s3Service, s3Key); err != nil {
			rabbitMqService.logger.Warn("[bg-cleanup] raw object not deleted", "key", s3Key, "err", err)
		}
	}()
}

// PublishToChannelHelper reports a status. Only fatal publish failures are
// returned; anything else is logged so the job itself can still finish.
func (rabbitMqService *RabbitMqService) PublishToChannelHelper(ctx context.Context, statusData *types.StatusData) error {
	statusMessage := utils.InitStatusMessage(statusData)
	if err := rabbitMqService.PublishToChannel(ctx, statusMessage); err != nil {
		if utils.IsFatalError(err) {
			return fmt.Errorf("fatal: cannot publish %s status: %w", statusData.Status, err)
		}
		rabbitMqService.logger.Warn("failed to publish status", "status", statusData.Status, "job", statusData.ID, "err", err)
	}
	return nil
}

func (rabbitMqService *RabbitMqService) PublishToChannel(ctx context.Context, message any) error {
	if rabbitMqService.statusQueueChannel == nil {
		return fmt.Errorf("statusQueueChannel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	serializedMessage, err := utils.SerializeJSON(message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	err = rabbitMqService.statusQueueChannel.PublishWithContext(ctx,
		StatusExchange,
		StatusRoutingKey,
		true,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        serializedMessage,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// ProcessMessage handles one job. A returned models.ProcessingError decides
// whether the delivery is requeued.
func (rabbitMqService *RabbitMqService) ProcessMessage(ctx context.Context, d amqp.Delivery) error {
	var rabbitMqMessage types.RabbitMQMessage
	if err := utils.ParseJSON(d.Body, &rabbitMqMessage); err != nil {
		return models.ProcessingError{Err: fmt.Errorf("failed to parse message: %w", err), Requeue: false}
	}
	job := rabbitMqMessage.Data
	logger := rabbitMqService.logger.With("job", job.Id, "rawKey", job.S3RawKey)
	logger.Info("processing resize job", "pattern", rabbitMqMessage.Pattern, "createdAt", job.CreatedAt)

	if err := rabbitMqService.PublishToChannelHelper(ctx, utils.InitStatusData(job.Id, job.UserId, types.PROCESSING, "", "")); err != nil {
		return err
	}

	source, downloadErr := rabbitMqService.download(ctx, job.S3RawKey)
	if downloadErr != nil {
		logger.Warn("download failed", "attempts", downloadAttempts, "err", downloadErr)
		requeue := utils.IsTransientError(downloadErr)
		if err := rabbitMqService.publishFailure(ctx, job, queueErrors.ErrDownload); err != nil {
			return err
		}
		if !requeue {
			rabbitMqService.fireBackgroundCleanup(ctx, job.S3RawKey)
		}
		return models.ProcessingError{Err: fmt.Errorf("download failed for key %s: %w", job.S3RawKey, downloadErr), Requeue: requeue}
	}

	rec, err := rabbitMqService.transformHandler.TransformImage(ctx, job, source)
	if err != nil {
		logger.Warn("transform failed", "err", err)
		reason := queueErrors.ErrTransform
		if errors.Is(err, types.ErrInvalidParameter) {
			reason = queueErrors.ErrInvalidJob
		}
		if err := rabbitMqService.publishFailure(ctx, job, reason); err != nil {
			return err
		}
		rabbitMqService.fireBackgroundCleanup(ctx, job.S3RawKey)
		return models.ProcessingError{Err: fmt.Errorf("transform failed for key %s: %w", job.S3RawKey, err), Requeue: false}
	}

	if rec.PersistErr != nil {
		// the raw upload is kept so a retry can still compute the asset
		requeue := utils.IsTransientError(rec.PersistErr)
		if err := rabbitMqService.publishFailure(ctx, job, queueErrors.ErrUpload); err != nil {
			return err
		}
		return models.ProcessingError{Err: rec.PersistErr, Requeue: requeue}
	}

	publicUrl, err := rabbitMqService.s3Service.Presign(ctx, rec.Key)
	if err != nil {
		logger.Warn("presign failed, reporting store location", "key", rec.Key, "err", err)
		publicUrl = rec.Location
	}

	status := utils.WithAsset(utils.InitStatusData(job.Id, job.UserId, types.PROCCESSED, publicUrl, ""), rec)
	if err := rabbitMqService.PublishToChannelHelper(ctx, status); err != nil {
		return err
	}
	logger.Info("resize job done", "key", rec.Key, "provenance", rec.Provenance)

	rabbitMqService.fireBackgroundCleanup(ctx, job.S3RawKey)
	return nil
}

func (rabbitMqService *RabbitMqService) publishFailure(ctx context.Context, job types.ResizeJob, reason string) error {
	return rabbitMqService.PublishToChannelHelper(ctx, utils.InitStatusData(job.Id, job.UserId, types.FAILED, "", reason))
}

func (rabbitMqService *RabbitMqService) download(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for i := 0; i < downloadAttempts; i++ {
		data, err := rabbitMqService.s3Service.Download(ctx, key)
		if err == nil {
			return data, nil
		}
		lastErr = err
		rabbitMqService.logger.Debug("download attempt failed", "attempt", i+1, "key", key, "err", err)
		if i < downloadAttempts-1 {
			if err := sleep(ctx, rabbitMqService.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// handleDelivery acks a processed delivery or nacks it, requeueing only
// failures that a retry can fix.
func (rabbitMqService *RabbitMqService) handleDelivery(ctx context.Context, queueName string, d amqp.Delivery) {
	err := rabbitMqService.ProcessMessage(ctx, d)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			rabbitMqService.logger.Warn("ack failed", "queue", queueName, "err", ackErr)
		}
		return
	}

	requeue := utils.IsTransientError(err)
	var procErr models.ProcessingError
	if errors.As(err, &procErr) {
		requeue = procErr.Requeue
	}
	rabbitMqService.logger.Error("error processing message", "queue", queueName, "requeue", requeue, "err", err)
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		rabbitMqService.logger.Warn("nack failed", "queue", queueName, "err", nackErr)
	}
}

// Start declares the status exchange, starts config.Worker[queue] consumers
// per job queue and blocks until ctx is done.
func (rabbitMqService *RabbitMqService) Start(ctx context.Context, conn *amqp.Connection) error {
	rabbitMqService.rabbitMqConn = conn

	statusCh, err := rabbitMqService.channel()
	if err != nil {
		return err
	}
	if err := rabbitMqService.setupStatusQueue(statusCh); err != nil {
		statusCh.Close()
		return err
	}
	defer statusCh.Close()

	// every queue is declared before any consumer starts, so a failure here
	// leaves nothing running
	jobQueues, err := rabbitMqService.declareJobQueues(rabbitMqService.declareQueue)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, queueName := range jobQueues {
		count, ok := config.Worker[queueName]
		if !ok {
			rabbitMqService.logger.Info("no worker count configured, using one", "queue", queueName)
			count = 1
		}
		for i := range count {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rabbitMqService.consume(ctx, queueName, i+1)
			}()
		}
	}

	<-ctx.Done()
	rabbitMqService.logger.Info("shutting down all consumers gracefully")
	wg.Wait()
	rabbitMqService.cleanups.Wait()
	return nil
}

// declareJobQueues declares every configured job queue and returns their
// names, or the first declaration error.
func (rabbitMqService *RabbitMqService) declareJobQueues(declare func(queueName string) error) ([]string, error) {
	var jobQueues []string
	for _, queueName := range rabbitMqService.config.RabbitMqQueues {
		if queueName == StatusQueue {
			continue
		}
		if err := declare(queueName); err != nil {
			return nil, err
		}
		jobQueues = append(jobQueues, queueName)
	}
	return jobQueues, nil
}

func (rabbitMqService *RabbitMqService) declareQueue(queueName string) error {
	ch, err := rabbitMqService.channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	_, err = utils.NewQueue(ch, queueName)
	return err
}

// consume keeps one consumer attached to queueName, recreating its channel
// and connection whenever the broker drops them.
func (rabbitMqService *RabbitMqService) consume(ctx context.Context, queueName string, worker int) {
	logger := rabbitMqService.logger.With("queue", queueName, "worker", worker)
	var consumerCh *amqp.Channel
	defer func() {
		if consumerCh != nil {
			consumerCh.Close()
		}
	}()

	for ctx.Err() == nil {
		if consumerCh == nil || consumerCh.IsClosed() {
			newCh, err := rabbitMqService.channel()
			if err != nil {
				logger.Warn("failed to create channel", "err", err)
				_ = sleep(ctx, 5*time.Second)
				continue
			}
			consumerCh = newCh
		}

		msgs, err := utils.NewQueueConsumer(consumerCh, queueName, 1)
		if err != nil {
			logger.Warn("failed to start consumer", "err", err)
			consumerCh.Close()
			consumerCh = nil
			_ = sleep(ctx, 5*time.Second)
			continue
		}
		logger.Info("worker started, waiting for messages")

		for open := true; open; {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					logger.Warn("channel closed, will recreate")
					consumerCh = nil
					open = false
					_ = sleep(ctx, 2*time.Second)
					continue
				}
				rabbitMqService.handleDelivery(ctx, queueName, d)
			}
		}
	}
}

// channel opens a channel, redialing first if the connection is gone.
func (rabbitMqService *RabbitMqService) channel() (*amqp.Channel, error) {
	rabbitMqService.connMu.Lock()
	defer rabbitMqService.connMu.Unlock()
	if rabbitMqService.rabbitMqConn == nil || rabbitMqService.rabbitMqConn.IsClosed() {
		conn, err := utils.NewRabbitMQClient(rabbitMqService.config.RabbitMqURL)
		if err != nil {
			return nil, err
		}
		rabbitMqService.rabbitMqConn = conn
	}
	return utils.NewChannel(rabbitMqService.rabbitMqConn)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
