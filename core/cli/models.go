package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	cliContext "github.com/pocketlm/pocketlm/core/cli/context"
	"github.com/pocketlm/pocketlm/core/config"
	"github.com/pocketlm/pocketlm/core/manager"
	"github.com/pocketlm/pocketlm/core/registry"
	"github.com/pocketlm/pocketlm/core/startup"
)

type ModelsCMDFlags struct {
	Registries string `env:"POCKETLM_REGISTRIES,REGISTRIES" default:"${registries}" help:"JSON list of registry sources" group:"models"`
	ModelsPath string `env:"POCKETLM_MODELS_PATH,MODELS_PATH" type:"path" default:"${basepath}/models" help:"Path containing downloaded models" group:"storage"`
	StatePath  string `env:"POCKETLM_STATE_PATH,STATE_PATH" type:"path" default:"${basepath}/pocketlm.db" help:"Path of the persisted state database" group:"storage"`
}

func (f *ModelsCMDFlags) assemble() (*manager.Manager, *registry.Registry, func(), error) {
	var sources []registry.Source
	if err := json.Unmarshal([]byte(f.Registries), &sources); err != nil {
		log.Error().Err(err).Msg("unable to load registries")
		return nil, nil, nil, err
	}

	return startup.Assemble(config.NewApplicationConfig(
		config.WithModelsPath(f.ModelsPath),
		config.WithStatePath(f.StatePath),
		config.WithRegistries(sources...),
	))
}

type ModelsList struct {
	Search string `help:"Filter models by a search term" group:"models"`

	ModelsCMDFlags `embed:""`
}

type ModelsInstall struct {
	ModelArgs []string `arg:"" optional:"" name:"models" help:"Model names to install"`

	ModelsCMDFlags `embed:""`
}

type ModelsDelete struct {
	Name string `arg:"" optional:"" help:"Model name to delete"`
	All  bool   `help:"Delete every registered model"`

	ModelsCMDFlags `embed:""`
}

type ModelsImport struct {
	Name string `arg:"" help:"Name to record the model under"`
	Path string `arg:"" type:"existingdir" help:"Local directory holding the model files"`

	ModelsCMDFlags `embed:""`
}

type ModelsShow struct {
	Name string `arg:"" help:"Model name to show"`

	ModelsCMDFlags `embed:""`
}

type ModelsActive struct {
	Name string `arg:"" optional:"" help:"Model name to activate; prints the current selection when omitted"`

	ModelsCMDFlags `embed:""`
}

type ModelsCMD struct {
	List    ModelsList    `cmd:"" help:"List the models available in your registries" default:"withargs"`
	Install ModelsInstall `cmd:"" help:"Install a model from the registries"`
	Delete  ModelsDelete  `cmd:"" help:"Delete a downloaded model"`
	Import  ModelsImport  `cmd:"" help:"Import a model from a local directory"`
	Show    ModelsShow    `cmd:"" help:"Show a model's card"`
	Active  ModelsActive  `cmd:"" help:"Show or set the active model"`
}

func (ml *ModelsList) Run(ctx *cliContext.Context) error {
	m, reg, cleanup, err := ml.assemble()
	if err != nil {
		return err
	}
	defer cleanup()

	models := reg.All()
	if ml.Search != "" {
		models = reg.Search(ml.Search)
	}

	for _, model := range models {
		switch {
		case m.ActiveModel() == model.Name:
			fmt.Printf(" * %s (active)\n", model.ID())
		case m.IsDownloaded(model.Name):
			fmt.Printf(" * %s (installed)\n", model.ID())
		default:
			fmt.Printf(" - %s\n", model.ID())
		}
	}
	return nil
}

func (mi *ModelsInstall) Run(ctx *cliContext.Context) error {
	m, reg, cleanup, err := mi.assemble()
	if err != nil {
		return err
	}
	defer cleanup()

	for _, name := range mi.ModelArgs {
		model := reg.FindByName(name)
		if model == nil {
			return fmt.Errorf("no model found with name %q", name)
		}

		progressBar := progressbar.NewOptions(
			1000,
			progressbar.OptionSetDescription(fmt.Sprintf("downloading model %s", model.Name)),
			progressbar.OptionShowBytes(false),
			progressbar.OptionClearOnFinish(),
		)
		progressCallback := func(fraction float64) {
			if err := progressBar.Set(int(fraction * 1000)); err != nil {
				log.Error().Err(err).Str("model", model.Name).Msg("error while updating progress bar")
			}
		}

		if err := m.Download(context.Background(), *model, progressCallback); err != nil {
			var derr *manager.DownloadError
			if errors.As(err, &derr) {
				return fmt.Errorf("%s: %s", derr.Kind, derr.Detail)
			}
			return err
		}
		fmt.Printf("model %s installed\n", model.Name)
	}
	return nil
}

func (md *ModelsDelete) Run(ctx *cliContext.Context) error {
	m, _, cleanup, err := md.assemble()
	if err != nil {
		return err
	}
	defer cleanup()

	if md.All {
		return m.DeleteAll()
	}
	if md.Name == "" {
		return fmt.Errorf("a model name or --all is required")
	}
	return m.Delete(md.Name)
}

func (mi *ModelsImport) Run(ctx *cliContext.Context) error {
	m, _, cleanup, err := mi.assemble()
	if err != nil {
		return err
	}
	defer cleanup()

	return m.Import(mi.Name, mi.Path)
}

func (ms *ModelsShow) Run(ctx *cliContext.Context) error {
	m, reg, cleanup, err := ms.assemble()
	if err != nil {
		return err
	}
	defer cleanup()

	model := reg.FindByName(ms.Name)
	if model == nil {
		return fmt.Errorf("no model found with name %q", ms.Name)
	}

	out, err := glamour.Render(modelCard(model, m.IsDownloaded(model.Name)), "dark")
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func modelCard(model *registry.Model, installed bool) string {
	card := fmt.Sprintf("# %s\n\n%s\n", model.Name, model.Description)
	if model.License != "" {
		card += fmt.Sprintf("\n- License: %s", model.License)
	}
	if model.Kind != "" {
		card += fmt.Sprintf("\n- Kind: %s", model.Kind)
	}
	if len(model.Tags) > 0 {
		card += fmt.Sprintf("\n- Tags: %v", model.Tags)
	}
	if installed {
		card += "\n- Installed: yes"
	}
	return card + "\n"
}

func (ma *ModelsActive) Run(ctx *cliContext.Context) error {
	m, _, cleanup, err := ma.assemble()
	if err != nil {
		return err
	}
	defer cleanup()

	if ma.Name == "" {
		active := m.ActiveModel()
		if active == "" {
			fmt.Println("no active model")
			return nil
		}
		fmt.Println(active)
		return nil
	}
	return m.SetActiveModel(ma.Name)
}
