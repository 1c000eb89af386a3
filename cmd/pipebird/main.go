package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bqdest "github.com/realize-engineering/pipebird/connectors/destinations/bigquery"
	rsdest "github.com/realize-engineering/pipebird/connectors/destinations/redshift"
	s3dest "github.com/realize-engineering/pipebird/connectors/destinations/s3"
	sfdest "github.com/realize-engineering/pipebird/connectors/destinations/snowflake"
	"github.com/realize-engineering/pipebird/internal/app"
	"github.com/realize-engineering/pipebird/internal/config"
	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

const cliVersion = "0.0.0-dev"

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	command := newPipebirdCommand()
	parsedArgs := []string{}
	if len(args) > 1 {
		parsedArgs = args[1:]
	}
	command.SetArgs(parsedArgs)
	return command.Execute()
}

func newPipebirdCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "pipebird",
		Short:        "Pipebird replication admin CLI",
		Version:      cliVersion,
		SilenceUsage: true,
	}

	command.PersistentFlags().String("config", "", "path to pipebird config file")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initCLIConfig(cmd)
	}

	transferCommand := &cobra.Command{
		Use:   "transfer",
		Short: "manage transfers",
	}
	transferList := &cobra.Command{
		Use:   "list",
		Short: "list transfers for a configuration",
		Args:  cobra.NoArgs,
		RunE:  runTransferList,
	}
	transferList.Flags().Int64("configuration", 0, "configuration id")
	transferCreate := &cobra.Command{
		Use:   "create",
		Short: "enqueue a transfer for a configuration",
		Args:  cobra.NoArgs,
		RunE:  runTransferCreate,
	}
	transferCreate.Flags().Int64("configuration", 0, "configuration id")
	transferCancel := &cobra.Command{
		Use:   "cancel",
		Short: "cancel a queued or in-flight transfer",
		Args:  cobra.NoArgs,
		RunE:  runTransferCancel,
	}
	transferCancel.Flags().Int64("id", 0, "transfer id")
	transferRun := &cobra.Command{
		Use:   "run",
		Short: "run one transfer inline instead of waiting for a worker",
		Args:  cobra.NoArgs,
		RunE:  runTransferRun,
	}
	transferRun.Flags().Int64("id", 0, "transfer id")
	transferCommand.AddCommand(transferList, transferCreate, transferCancel, transferRun)
	command.AddCommand(transferCommand)

	sourceCheck := &cobra.Command{
		Use:   "check-source",
		Short: "probe connectivity for a registered source",
		Args:  cobra.NoArgs,
		RunE:  runSourceCheck,
	}
	sourceCheck.Flags().Int64("id", 0, "source id")
	command.AddCommand(sourceCheck)

	destCheck := &cobra.Command{
		Use:   "check-destination",
		Short: "validate credentials and connectivity for a destination",
		Args:  cobra.NoArgs,
		RunE:  runDestinationCheck,
	}
	destCheck.Flags().Int64("id", 0, "destination id")
	command.AddCommand(destCheck)

	webhookCommand := &cobra.Command{
		Use:   "webhook",
		Short: "manage webhooks",
	}
	webhookAdd := &cobra.Command{
		Use:   "add",
		Short: "register a webhook for transfer.finalized events",
		Args:  cobra.NoArgs,
		RunE:  runWebhookAdd,
	}
	webhookAdd.Flags().String("url", "", "webhook endpoint URL")
	webhookAdd.Flags().String("secret", "", "HMAC signing secret (generated when omitted)")
	webhookCommand.AddCommand(webhookAdd)
	command.AddCommand(webhookCommand)

	return command
}

func initCLIConfig(cmd *cobra.Command) error {
	configFlags := cmd.Flags()
	if cmd.Root() != nil && cmd.Root().PersistentFlags().Lookup("config") != nil {
		configFlags = cmd.Root().PersistentFlags()
	}
	configPath, err := configFlags.GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}

	viper.Reset()
	viper.SetEnvPrefix("PIPEBIRD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else if envPath := os.Getenv("PIPEBIRD_CONFIG"); envPath != "" {
		viper.SetConfigFile(envPath)
	} else {
		viper.SetConfigName("pipebird")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "pipebird"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if !errors.As(err, &missing) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// viperLookup resolves PIPEBIRD_* keys against the process environment
// first, then the config file loaded by initCLIConfig. A file stores keys
// without the env prefix, so PIPEBIRD_POSTGRES_DSN maps to postgres_dsn.
func viperLookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	fileKey := strings.ToLower(strings.TrimPrefix(key, "PIPEBIRD_"))
	if viper.IsSet(fileKey) {
		return viper.GetString(fileKey), true
	}
	return "", false
}

func withServices(fn func(ctx context.Context, services *app.Services) error) error {
	cfg, err := config.LoadWith(viperLookup)
	if err != nil {
		return err
	}
	ctx := context.Background()
	services, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()
	return fn(ctx, services)
}

func int64Flag(cmd *cobra.Command, name string) (int64, error) {
	value, err := cmd.Flags().GetInt64(name)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, fmt.Errorf("--%s is required", name)
	}
	return value, nil
}

func runTransferList(cmd *cobra.Command, _ []string) error {
	configurationID, err := int64Flag(cmd, "configuration")
	if err != nil {
		return err
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		transfers, err := services.Store.ListTransfers(ctx, configurationID)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(transfers))
		for _, t := range transfers {
			rows = append(rows, []string{
				strconv.FormatInt(t.ID, 10),
				string(t.Status),
				t.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		renderTextTable([]string{"ID", "STATUS", "CREATED"}, rows)
		return nil
	})
}

func runTransferCreate(cmd *cobra.Command, _ []string) error {
	configurationID, err := int64Flag(cmd, "configuration")
	if err != nil {
		return err
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		t, err := services.Store.CreateTransfer(ctx, configurationID)
		if err != nil {
			return err
		}
		fmt.Printf("transfer %d enqueued\n", t.ID)
		return nil
	})
}

func runTransferCancel(cmd *cobra.Command, _ []string) error {
	transferID, err := int64Flag(cmd, "id")
	if err != nil {
		return err
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		if err := services.Coordinator.Cancel(ctx, transferID); err != nil {
			return err
		}
		fmt.Printf("transfer %d cancelled\n", transferID)
		return nil
	})
}

func runTransferRun(cmd *cobra.Command, _ []string) error {
	transferID, err := int64Flag(cmd, "id")
	if err != nil {
		return err
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		return services.Coordinator.Run(ctx, transferID)
	})
}

func runSourceCheck(cmd *cobra.Command, _ []string) error {
	sourceID, err := int64Flag(cmd, "id")
	if err != nil {
		return err
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		src, err := services.Store.GetSource(ctx, sourceID)
		if err != nil {
			return err
		}
		if err := services.Pools.Probe(ctx, src.ConnectionParams()); err != nil {
			return fmt.Errorf("source %d unreachable: %w", sourceID, err)
		}
		fmt.Printf("source %d (%s) reachable\n", sourceID, src.Nickname)
		return nil
	})
}

func runDestinationCheck(cmd *cobra.Command, _ []string) error {
	destinationID, err := int64Flag(cmd, "id")
	if err != nil {
		return err
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		dest, err := services.Store.GetDestination(ctx, destinationID)
		if err != nil {
			return err
		}
		if err := checkDestination(dest); err != nil {
			return err
		}
		if dest.Type != replication.DestinationProvisionedS3 {
			if err := services.Pools.Probe(ctx, dest.ConnectionParams()); err != nil {
				return fmt.Errorf("destination %d unreachable: %w", destinationID, err)
			}
		}
		fmt.Printf("destination %d (%s) reachable\n", destinationID, dest.Nickname)
		return nil
	})
}

func checkDestination(dest model.Destination) error {
	switch dest.Type {
	case replication.DestinationProvisionedS3:
		return s3dest.Check(dest)
	case replication.DestinationSnowflake:
		return sfdest.Check(dest)
	case replication.DestinationRedshift:
		return rsdest.Check(dest)
	case replication.DestinationBigQuery:
		return bqdest.Check(dest)
	default:
		return fmt.Errorf("%w: destination type %s", replication.ErrNotImplemented, dest.Type)
	}
}

func runWebhookAdd(cmd *cobra.Command, _ []string) error {
	url, err := cmd.Flags().GetString("url")
	if err != nil {
		return err
	}
	secret, err := cmd.Flags().GetString("secret")
	if err != nil {
		return err
	}
	if url == "" {
		return errors.New("--url is required")
	}
	generated := secret == ""
	if generated {
		secret = "whsec_" + uuid.NewString()
	}
	return withServices(func(ctx context.Context, services *app.Services) error {
		hook, err := services.Store.CreateWebhook(ctx, model.Webhook{URL: url, SecretKey: secret})
		if err != nil {
			return err
		}
		fmt.Printf("webhook %d registered\n", hook.ID)
		if generated {
			fmt.Printf("signing secret: %s\n", secret)
		}
		return nil
	})
}

func renderTextTable(headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	header := make(table.Row, len(headers))
	for i, value := range headers {
		header[i] = value
	}
	t.AppendHeader(header)
	for _, rowValues := range rows {
		row := make(table.Row, len(rowValues))
		for i, value := range rowValues {
			row[i] = value
		}
		t.AppendRow(row)
	}
	t.Render()
}
