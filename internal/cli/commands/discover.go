package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// NewDiscoverCommand creates the discover command.
func NewDiscoverCommand() *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the features registered for a problem",
		Long: `List the features registered for a problem with their scores.

The code of features written by other contributors is hidden unless you are
an administrator (see the admins configuration key).`,
		Example: `  # Everyone's features
  featurefactory discover -p titanic

  # Only yours, as JSON
  featurefactory discover -p titanic --mine -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := cmdCtx.Session(cmd, Stack{})
			if err != nil {
				return err
			}

			var views []core.FeatureView
			title := fmt.Sprintf("Features for %s", sess.Problem().Name)
			if mine {
				views, err = sess.MyFeatures(cmd.Context())
				title = fmt.Sprintf("Your features for %s", sess.Problem().Name)
			} else {
				views, err = sess.DiscoverFeatures(cmd.Context())
			}
			if err != nil {
				return err
			}
			return renderFeatureViews(cmdCtx.Renderer, title, views)
		},
	}
	addIdentityFlags(cmd)
	cmd.Flags().BoolVar(&mine, "mine", false, "Only list your own features")
	return cmd
}
