package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/order-events/pkg/kafka"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/relay"
)

// EventView — сообщение Kafka в выводе tail.
type EventView struct {
	Topic     string            `json:"topic"`
	Partition int               `json:"partition"`
	Offset    int64             `json:"offset"`
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers"`
}

func newTailCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	var (
		fromBeginning bool
		limit         int
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Читать ретранслированные события заказов из Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				cfg := app.Config

				topic, err := broker.NewTopic(cfg.Producer.TopicOwner, cfg.Producer.TopicName)
				if err != nil {
					return err
				}
				kafkaTopic := relay.KafkaTopic(cfg.Relay.TopicPrefix, topic.String())

				var consumerOpts []kafka.ConsumerOption
				if fromBeginning {
					consumerOpts = append(consumerOpts, kafka.FromBeginning())
				}

				// Отдельная группа на запуск: tail не сдвигает offset'ы сервиса.
				consumer, err := kafka.NewConsumer(
					kafka.Config{Brokers: cfg.Kafka.Brokers},
					kafkaTopic,
					"orderctl-tail-"+uuid.NewString(),
					consumerOpts...,
				)
				if err != nil {
					return err
				}
				defer consumer.Close()

				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				ctx, stop := context.WithCancel(ctx)
				defer stop()

				received := 0
				err = consumer.Consume(ctx, func(_ context.Context, msg *kafka.Message) error {
					received++
					view := EventView{
						Topic:     msg.Topic,
						Partition: msg.Partition,
						Offset:    msg.Offset,
						Key:       string(msg.Key),
						Value:     string(msg.Value),
						Headers:   msg.Headers,
					}
					text := fmt.Sprintf("[%s/%d@%d] %s %s ecid=%s",
						msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value, msg.Headers[kafka.HeaderECID])
					if err := printResult(cmd.OutOrStdout(), opts, text, view); err != nil {
						return err
					}

					if limit > 0 && received >= limit {
						stop()
					}
					return nil
				})

				// Остановка по лимиту или таймауту — штатное завершение.
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "читать с первого offset")
	cmd.Flags().IntVar(&limit, "limit", 0, "остановиться после N сообщений (0 — без ограничения)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "остановиться через заданное время (0 — без ограничения)")

	return cmd
}
