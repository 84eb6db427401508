package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	"agntschat/internal/adapter/tui/theme"
	"agntschat/internal/domain"
)

// AgentsCmd groups the agent management commands.
type AgentsCmd struct {
	List   AgentsListCmd   `cmd:"" default:"1" help:"List stored agents."`
	Add    AgentsAddCmd    `cmd:"" help:"Add or update an agent."`
	Delete AgentsDeleteCmd `cmd:"" help:"Delete an agent."`
	Import AgentsImportCmd `cmd:"" help:"Import agents from a JSON file into an empty store."`
}

type AgentsListCmd struct{}

func (c *AgentsListCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	agents, err := a.agents.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		printf("No agents configured.\n")
		return nil
	}
	for _, ag := range agents {
		printf("%s %s\n", theme.AgentLabel.Render(ag.Name), theme.TextMuted.Render(fmt.Sprintf("#%d", *ag.ID)))
		if ag.Description != "" {
			printf("  %s\n", ag.Description)
		}
		if ag.InstructionsRef != "" {
			printf("  instructions: %s\n", ag.InstructionsRef)
		}
		if ag.PersonaRef != "" {
			printf("  persona:      %s\n", ag.PersonaRef)
		}
	}
	return nil
}

type AgentsAddCmd struct {
	Name         string `arg:"" help:"Agent name."`
	Description  string `short:"d" help:"What the agent does."`
	Instructions string `short:"i" help:"Instructions file, relative to the templates directory."`
	Persona      string `short:"p" help:"Persona file, relative to the templates directory."`
}

func (c *AgentsAddCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	agent := domain.AgentDescriptor{
		Name:            c.Name,
		Description:     c.Description,
		InstructionsRef: c.Instructions,
		PersonaRef:      c.Persona,
	}
	if existing, err := a.agents.FindByNames(ctx, []string{c.Name}); err == nil {
		agent.ID = existing[0].ID
	}
	saved, err := a.agents.Save(ctx, agent)
	if err != nil {
		return err
	}
	printf("%s saved agent %s (#%d)\n", okMark(), saved.Name, *saved.ID)
	return nil
}

type AgentsDeleteCmd struct {
	Name string `arg:"" help:"Agent name."`
}

func (c *AgentsDeleteCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	found, err := a.agents.FindByNames(ctx, []string{c.Name})
	if err != nil {
		return err
	}
	if _, err := a.agents.Delete(ctx, *found[0].ID); err != nil {
		return err
	}
	printf("%s deleted agent %s\n", okMark(), c.Name)
	return nil
}

type AgentsImportCmd struct {
	Path string `arg:"" type:"existingfile" help:"JSON array of agent descriptors."`
}

func (c *AgentsImportCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.agents.ImportJSON(ctx, c.Path)
	if err != nil {
		return err
	}
	if n == 0 {
		printf("%s nothing imported; the agent store is not empty\n", warnMark())
		return nil
	}
	printf("%s imported %d agents\n", okMark(), n)
	return nil
}

// SourcesCmd groups the context source management commands.
type SourcesCmd struct {
	List       SourcesListCmd       `cmd:"" default:"1" help:"List stored context sources."`
	AddFile    SourcesAddFileCmd    `cmd:"" name:"add-file" help:"Add a local file source."`
	Add        SourcesAddCmd        `cmd:"" help:"Add a source of any kind from a JSON configuration."`
	Enable     SourcesEnableCmd     `cmd:"" help:"Enable a source after validating it."`
	Disable    SourcesDisableCmd    `cmd:"" help:"Disable a source."`
	Delete     SourcesDeleteCmd     `cmd:"" help:"Delete a source."`
	Validate   SourcesValidateCmd   `cmd:"" help:"Validate one source; an invalid source is disabled."`
	Revalidate SourcesRevalidateCmd `cmd:"" help:"Validate every enabled source."`
}

type SourcesListCmd struct{}

func (c *SourcesListCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	descs, err := a.catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(descs) == 0 {
		printf("No context sources configured.\n")
		return nil
	}
	active := make(map[string]bool)
	for _, name := range a.aggregator.Active() {
		active[name] = true
	}
	for _, d := range descs {
		state := theme.TextMuted.Render("disabled")
		switch {
		case d.Enabled && active[d.Name]:
			state = theme.TextSuccess.Render("active")
		case d.Enabled:
			state = theme.TextWarning.Render("enabled, inactive")
		}
		printf("#%d %s [%s] %s\n", d.ID, theme.Bold.Render(d.Name), d.Kind, state)
		if d.Description != "" {
			printf("  %s\n", d.Description)
		}
		printf("  %s\n", theme.TextMuted.Render(string(d.Configuration)))
	}
	return nil
}

type SourcesAddFileCmd struct {
	Name        string   `arg:"" help:"Source name."`
	Path        string   `arg:"" type:"path" help:"File to serve as context."`
	Description string   `short:"d" help:"Source description."`
	Extensions  []string `help:"Allowed file extensions." placeholder:".txt,.md"`
	MaxSize     int64    `name:"max-size" help:"Maximum file size in bytes."`
	Disabled    bool     `help:"Store the source without enabling it."`
}

func (c *SourcesAddFileCmd) Run(cli *CLI) error {
	path, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	cfg := domain.LocalFilesConfig{
		FilePath:            path,
		SupportedExtensions: c.Extensions,
		MaxFileSizeBytes:    c.MaxSize,
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return addSource(cli, domain.ContextSourceDescriptor{
		Name:          c.Name,
		Description:   c.Description,
		Kind:          domain.SourceLocalFiles,
		Configuration: raw,
		Enabled:       !c.Disabled,
	})
}

type SourcesAddCmd struct {
	Name        string `arg:"" help:"Source name."`
	Kind        string `short:"k" required:"" enum:"LocalFiles,WebApi,Database,SharePoint,Custom" help:"Source kind."`
	Config      string `help:"Kind specific JSON configuration." default:"{}"`
	Description string `short:"d" help:"Source description."`
	Disabled    bool   `help:"Store the source without enabling it."`
}

func (c *SourcesAddCmd) Run(cli *CLI) error {
	return addSource(cli, domain.ContextSourceDescriptor{
		Name:          c.Name,
		Description:   c.Description,
		Kind:          domain.SourceKind(c.Kind),
		Configuration: json.RawMessage(c.Config),
		Enabled:       !c.Disabled,
	})
}

func addSource(cli *CLI, d domain.ContextSourceDescriptor) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	saved, err := a.catalog.Add(ctx, d)
	if err != nil {
		return err
	}
	printf("%s added source %s (#%d)\n", okMark(), saved.Name, saved.ID)
	if saved.Enabled && !slices.Contains(a.aggregator.Active(), saved.Name) {
		printf("%s %s kind sources are stored but not searched yet\n", warnMark(), saved.Kind)
	}
	return nil
}

type SourcesEnableCmd struct {
	ID int64 `arg:"" help:"Source id."`
}

func (c *SourcesEnableCmd) Run(cli *CLI) error { return setSourceEnabled(cli, c.ID, true) }

type SourcesDisableCmd struct {
	ID int64 `arg:"" help:"Source id."`
}

func (c *SourcesDisableCmd) Run(cli *CLI) error { return setSourceEnabled(cli, c.ID, false) }

func setSourceEnabled(cli *CLI, id int64, enabled bool) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.catalog.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	printf("%s source #%d %s\n", okMark(), id, state)
	return nil
}

type SourcesDeleteCmd struct {
	ID int64 `arg:"" help:"Source id."`
}

func (c *SourcesDeleteCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.catalog.Delete(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewDomainError("sources delete", domain.ErrNotFound, fmt.Sprintf("source id %d", c.ID))
	}
	printf("%s deleted source #%d\n", okMark(), c.ID)
	return nil
}

type SourcesValidateCmd struct {
	ID int64 `arg:"" help:"Source id."`
}

func (c *SourcesValidateCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	reason, err := a.catalog.Validate(ctx, c.ID)
	if err != nil {
		return err
	}
	if reason != nil {
		printf("%s source #%d is invalid and was disabled: %v\n", errMark(), c.ID, reason)
		return nil
	}
	printf("%s source #%d is valid\n", okMark(), c.ID)
	return nil
}

type SourcesRevalidateCmd struct{}

func (c *SourcesRevalidateCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.catalog.RevalidateAll(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		printf("%s %d source(s) disabled\n", warnMark(), n)
		return nil
	}
	printf("%s all enabled sources are valid\n", okMark())
	return nil
}
