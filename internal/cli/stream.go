package cli

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/jacentio/canopy/config"
	"github.com/jacentio/canopy/stream"
)

// NewStreamCommand creates the stream command, the Lambda entry point of
// the TTL reaper.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Run the DynamoDB Streams TTL reaper as a Lambda function",
		Long: `Run as an AWS Lambda handler subscribed to the streams of every table.

Rows removed by the DynamoDB TTL service are reaped: their cascade
children are deleted and their attachments are removed from storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			cfg.Store = config.StoreDynamo
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			h := stream.NewHandler(a.engine, cfg.Dynamo().LogicalTable, a.logger)
			lambda.Start(h.HandleExpired)
			return nil
		},
	}
}
