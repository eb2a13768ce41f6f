package cli

import (
	cliContext "github.com/pocketlm/pocketlm/core/cli/context"
)

var CLI struct {
	cliContext.Context `embed:""`

	Models ModelsCMD `cmd:"" help:"Manage local models: list, install, delete, import and select the active model"`
	Render RenderCMD `cmd:"" help:"Render a source file with syntax highlighting"`
}
