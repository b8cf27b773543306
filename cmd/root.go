package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/certdesk/certdesk/drive"
	"github.com/certdesk/certdesk/folders"
	"github.com/certdesk/certdesk/logging"
	"github.com/certdesk/certdesk/settings"
)

var (
	configPath  string
	fixturePath string
	fs          = afero.NewOsFs()
	conf        *settings.Settings
)

var rootCmd = &cobra.Command{
	Use:   "certdesk",
	Short: "Resolve participant names to their Google Drive folders",
	Long: `certdesk maps participant names to the Drive folders holding their
certificates. It searches a bounded-depth folder hierarchy below a configured
root, scores folder names by similarity and caches what it finds.

Configuration comes from an optional config file, CERTDESK_* environment
variables and flags, in increasing priority.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		s, err := settings.Load(fs, configPath, cmd.Flags())
		if err != nil {
			return err
		}
		conf = s
		logging.Init(s.Current().Log.Dir)
		if f := s.File(); f != "" {
			logging.Sub("cmd").Debug("config loaded", "file", f)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	pf.String("root", "", "root folder id of the participant hierarchy")
	pf.String("credentials", "", "Google credentials JSON file")
	pf.String("log-dir", "", "directory for rotated log files")
	pf.StringVar(&fixturePath, "fixture", "", "serve folders from a JSON tree file instead of Drive")
}

// fixedRoot replaces the configured root folder with the root of a fixture.
type fixedRoot struct {
	folders.ConfigSource
	root string
}

func (f fixedRoot) FolderConfig() (folders.Config, error) {
	c, err := f.ConfigSource.FolderConfig()
	c.RootFolderID = f.root
	return c, err
}

// newLister returns the folder source and the configuration to search it
// with: Drive by default, or the --fixture tree.
func newLister(ctx context.Context) (folders.Lister, folders.ConfigSource, error) {
	if fixturePath == "" {
		l, err := drive.New(ctx, conf.DriveOptions())
		if err != nil {
			return nil, nil, err
		}
		return l, conf, nil
	}

	f, err := fs.Open(fixturePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	m, root, err := folders.LoadMemoryLister(f)
	if err != nil {
		return nil, nil, err
	}
	logging.Sub("cmd").Info("using fixture hierarchy", "file", fixturePath, "root", root)
	return m, fixedRoot{ConfigSource: conf, root: root}, nil
}

func newDaemon(ctx context.Context) (*folders.Daemon, error) {
	lister, source, err := newLister(ctx)
	if err != nil {
		return nil, err
	}
	return folders.NewDaemon(source, lister, conf.DaemonOptions()), nil
}
