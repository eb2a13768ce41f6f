package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cliContext "github.com/pocketlm/pocketlm/core/cli/context"
	"github.com/pocketlm/pocketlm/core/render"
)

type RenderCMD struct {
	File     string `arg:"" type:"existingfile" help:"Source file to render"`
	Language string `help:"Language tag; derived from the file extension when omitted" short:"l"`
	Copy     bool   `help:"Also copy the raw source to the clipboard" short:"c"`
}

// bellNotifier rings the terminal bell on a successful copy.
type bellNotifier struct{}

func (bellNotifier) Success() {
	fmt.Print("\a")
}

func (r *RenderCMD) Run(ctx *cliContext.Context) error {
	source, err := os.ReadFile(r.File)
	if err != nil {
		return err
	}

	language := r.Language
	if language == "" {
		language = strings.TrimPrefix(filepath.Ext(r.File), ".")
	}

	highlighter := render.NewHighlighter()
	fmt.Print(highlighter.Highlight(string(source), language))

	if r.Copy {
		button := render.NewCopyButton(render.WithNotifier(bellNotifier{}))
		if err := button.Copy(string(source)); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "copied to clipboard")
	}
	return nil
}
