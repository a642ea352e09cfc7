package cmd

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/edge-ai-suites/fusion-pipeline/cmd/templates"
	"github.com/spf13/cobra"
)

var versionString string
var goVersionString string

// createCmd scaffolds a new nodes/<name> leaf-node package implementing
// fusion.NodeInterface and registering itself via fusion.RegisterNodeClass.
var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "create - scaffold a new leaf-node package under nodes/<name>",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pathParts := strings.Split(args[0], string(filepath.Separator))
		name := pathParts[len(pathParts)-1]

		settings := map[string]interface{}{
			"Path":      args[0],
			"Name":      name,
			"ClassName": strings.Title(name),
			"Version":   versionString,
			"GoVersion": goVersionString,
		}

		err := templates.GenerateProject(filepath.Join("nodes", args[0]), defaultProject, force, settings)
		if err != nil {
			log.Println(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.PersistentFlags().StringVar(
		&versionString,
		"version",
		"0.1.0",
		"(optional, default 0.1.0) alternative version for the generated node package",
	)

	createCmd.PersistentFlags().StringVar(
		&goVersionString,
		"go-version",
		"1.21",
		"(optional, default 1.21) alternative Go version for the generated node package",
	)
}

var defaultProject = templates.Project{
	Files: map[string]string{
		"node.go": nodeFile,
		"go.mod":  modFile,
	},
}

const nodeFile = `package {{.Name | ToLower}}

import (
	fusion "github.com/edge-ai-suites/fusion-pipeline"
)

func init() {
	fusion.RegisterNodeClass("{{.ClassName}}", New)
}

// New constructs a {{.ClassName}} node implementation bound to threadNum
// worker instances.
func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct{}

func (n *node) ValidateConfiguration(s string) error { return nil }
func (n *node) Prepare() error                       { return nil }
func (n *node) Rearm() error                         { return nil }
func (n *node) NewWorker(batchIndex int) fusion.NodeWorker {
	return &worker{}
}

type worker struct{}

func (w *worker) Init()              {}
func (w *worker) ProcessByFirstRun() {}
func (w *worker) ProcessByLastRun()  {}
func (w *worker) Deinit()            {}
func (w *worker) Process() error     { return nil }`

const modFile = `module {{.Path}}

go {{.GoVersion}}

require github.com/edge-ai-suites/fusion-pipeline v{{.Version}}`

