package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"example.com/order-events/pkg/db"
	"example.com/order-events/services/order/internal/domain"
	"example.com/order-events/services/order/internal/session"
)

// errDropNotConfirmed — drop без --yes.
var errDropNotConfirmed = errors.New("drop удаляет все заказы: подтвердите флагом --yes")

func newMigrateCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|status|version|reset]",
		Short: "Применить миграции схемы хранилища",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}

			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				if err := db.Migrate(ctx, app.DB, command); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts,
					fmt.Sprintf("миграции: %s выполнено", command),
					map[string]string{"command": command, "status": "ok"})
			})
		},
	}
}

func newProduceCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "produce <orderId> <itemId> <deliveryLocation>",
		Short: "Сохранить заказ и опубликовать событие одной транзакцией",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				ctx, span := startSpan(ctx, "produce")
				defer span.End()

				topic, err := app.Producer.Produce(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}

				return printResult(cmd.OutOrStdout(), opts, topic, map[string]string{
					"orderId": args[0],
					"topic":   topic,
					"traceId": span.SpanContext().TraceID().String(),
				})
			})
		},
	}
}

func newGetCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "get <orderId>",
		Short: "Показать документ заказа",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				order, err := app.Producer.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}

				text := fmt.Sprintf("%s item=%s location=%s status=%s tracking=%q payment=%q",
					order.OrderID, order.ItemID, order.DeliveryLocation, order.Status,
					order.TrackingState, order.PaymentState)
				return printResult(cmd.OutOrStdout(), opts, text, order)
			})
		},
	}
}

// updateFlags — поля документа, которые меняет update. Незаданные берутся из текущего документа.
type updateFlags struct {
	itemID   string
	location string
	status   string
	tracking string
	payment  string
}

func newUpdateCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	f := &updateFlags{}

	cmd := &cobra.Command{
		Use:   "update <orderId>",
		Short: "Изменить поля документа заказа (событие не публикуется)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				order, err := app.Producer.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}

				flags := cmd.Flags()
				if flags.Changed("item") {
					order.ItemID = f.itemID
				}
				if flags.Changed("location") {
					order.DeliveryLocation = f.location
				}
				if flags.Changed("status") {
					order.Status = f.status
				}
				if flags.Changed("tracking") {
					order.TrackingState = f.tracking
				}
				if flags.Changed("payment") {
					order.PaymentState = f.payment
				}

				if err := app.Producer.UpdateOrder(ctx, order); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts, fmt.Sprintf("заказ %s обновлен", order.OrderID), order)
			})
		},
	}

	cmd.Flags().StringVar(&f.itemID, "item", "", "itemId")
	cmd.Flags().StringVar(&f.location, "location", "", "deliveryLocation")
	cmd.Flags().StringVar(&f.status, "status", "", "status")
	cmd.Flags().StringVar(&f.tracking, "tracking", "", "trackingState")
	cmd.Flags().StringVar(&f.payment, "payment", "", "paymentState")

	return cmd
}

func newDeleteCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <orderId>",
		Short: "Удалить заказ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				msg, err := app.Producer.DeleteOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts, msg, map[string]string{"message": msg})
			})
		},
	}
}

func newDropCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Удалить коллекцию заказов целиком и создать ее заново",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errDropNotConfirmed
			}

			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				msg, err := app.Producer.DropOrders(ctx)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts, msg, map[string]string{"message": msg})
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "подтвердить удаление")
	return cmd
}

// MetadataView — метаданные корреляции в выводе session-metadata.
type MetadataView struct {
	Session  string `json:"session"`
	Action   string `json:"action"`
	Module   string `json:"module"`
	ClientID string `json:"clientId"`
	ECID     string `json:"ecid"`
	Sequence int    `json:"sequence"`
}

func newSessionMetadataCommand(opts *RootOptions, boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "session-metadata",
		Short: "Открыть сессию, пометить ее метаданными корреляции и показать их (с откатом)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, boot, func(ctx context.Context, app *App) error {
				ctx, span := startSpan(ctx, "session-metadata")
				defer span.End()

				sess, err := session.Open(ctx, app.DB, app.Broker)
				if err != nil {
					return err
				}
				// Close откатывает Active сессию: команда ничего не пишет.
				defer sess.Close()

				if _, err := app.Correlator.Stamp(ctx, sess); err != nil {
					return err
				}

				md := sess.Metadata()
				view := MetadataView{
					Session:  sess.ID(),
					Action:   md.Action(),
					Module:   md.Module(),
					ClientID: md.ClientID(),
					ECID:     md.ECID(),
					Sequence: domain.MetadataSequence,
				}

				text := strings.Join([]string{
					"session:   " + view.Session,
					"action:    " + view.Action,
					"module:    " + view.Module,
					"client_id: " + view.ClientID,
					"ecid:      " + view.ECID,
				}, "\n")
				return printResult(cmd.OutOrStdout(), opts, text, view)
			})
		},
	}
}
