// Package cli — административная утилита orderctl: миграции, чтение и правка
// заказов, drop коллекции, ручная публикация события и просмотр метаданных сессии.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"example.com/order-events/pkg/logger"
)

const tracerName = "example.com/order-events/orderctl"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RootOptions — глобальные флаги всех команд.
type RootOptions struct {
	EnvFile string
	Verbose bool
	Format  string // "text" | "json"
}

// ValidFormats — допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// NewRootCommand создает корневую команду orderctl.
// boot собирает зависимости; nil — DefaultBootstrap.
func NewRootCommand(boot Bootstrap) *cobra.Command {
	if boot == nil {
		boot = DefaultBootstrap
	}
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "orderctl",
		Short: "Администрирование сервиса событий заказов",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("неизвестный формат %q: допустимо %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "путь к .env файлу")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "подробный вывод (SQL, debug логи)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "формат вывода (text|json)")

	cmd.AddCommand(newMigrateCommand(opts, boot))
	cmd.AddCommand(newProduceCommand(opts, boot))
	cmd.AddCommand(newGetCommand(opts, boot))
	cmd.AddCommand(newUpdateCommand(opts, boot))
	cmd.AddCommand(newDeleteCommand(opts, boot))
	cmd.AddCommand(newDropCommand(opts, boot))
	cmd.AddCommand(newSessionMetadataCommand(opts, boot))
	cmd.AddCommand(newTailCommand(opts, boot))

	return cmd
}

// runWithApp собирает App, выполняет fn и закрывает App.
func runWithApp(cmd *cobra.Command, opts *RootOptions, boot Bootstrap, fn func(ctx context.Context, app *App) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := boot(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Ctx(ctx).Error().Err(closeErr).Msg("Ошибка освобождения ресурсов")
		}
	}()

	return fn(ctx, app)
}

// startSpan открывает корневой span команды: из него берется ECID сессии.
func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "orderctl "+name)
}

// printResult выводит v в формате из флага --format. text — строка для человека.
func printResult(w io.Writer, opts *RootOptions, text string, v any) error {
	if opts.Format == "json" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	_, err := fmt.Fprintln(w, text)
	return err
}
