package aur

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/openfroyo/froyo-aur/pkg/telemetry"
	"github.com/openfroyo/froyo-aur/pkg/workspace"
)

// buildPrerequisite must be on the host before a remote snapshot is built.
const buildPrerequisite = "fakeroot"

// BuildInput describes one pipeline run.
type BuildInput struct {
	Package string
	Helper  HelperDescriptor

	SkipSignatureCheck bool
	IgnoreArch         bool
	ExtraArgs          string

	// LocalSourceDir, when set, is copied from the source filesystem instead
	// of fetching a snapshot from the index.
	LocalSourceDir string
}

// BuildPipeline stages package sources in a workspace and runs the build.
type BuildPipeline struct {
	host     Host
	index    IndexClient
	sourceFs afero.Fs
	logger   zerolog.Logger
	tel      *telemetry.Telemetry
}

// NewBuildPipeline creates a pipeline. sourceFs is where local PKGBUILD
// directories are read from.
func NewBuildPipeline(host Host, index IndexClient, sourceFs afero.Fs, logger zerolog.Logger, tel *telemetry.Telemetry) *BuildPipeline {
	return &BuildPipeline{
		host:     host,
		index:    index,
		sourceFs: sourceFs,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		tel:      tel,
	}
}

// Run stages the sources, builds and installs. The workspace is released
// on every path. A non-zero build exit is returned as a result, not an error.
func (p *BuildPipeline) Run(ctx context.Context, in BuildInput) (res *ExecutionResult, err error) {
	ctx, span := p.tel.Spans().StartBuildSpan(ctx, in.Package, in.LocalSourceDir != "")
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	var meta *packageSnapshot
	if in.LocalSourceDir == "" {
		meta, err = p.resolve(ctx, in.Package)
		if err != nil {
			return nil, err
		}
		defer meta.body.Close()
	}

	ws, err := workspace.New(p.host.Fs, p.host.TempDir, workspace.DefaultPrefix)
	if err != nil {
		return nil, NewFilesystemError("failed to create build workspace", err).WithPackage(in.Package)
	}
	p.tel.WorkspaceCreated(ctx, in.Package, ws.Root())
	p.logger.Debug().Str("package", in.Package).Str("workspace", ws.Root()).Msg("Workspace created")

	defer func() {
		relErr := ws.Release()
		p.tel.WorkspaceReleased(ctx, in.Package, ws.Root(), relErr)
		if relErr != nil {
			p.logger.Warn().Err(relErr).Str("workspace", ws.Root()).Msg("Failed to release workspace")
			if err == nil {
				err = NewFilesystemError("failed to release build workspace", relErr).WithPackage(in.Package)
			}
		}
	}()

	cmd, err := p.stage(ws, in, meta)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("package", in.Package).
		Str("helper", in.Helper.ID()).
		Str("dir", cmd.Dir).
		Strs("argv", cmd.Argv).
		Msg("Building package")

	res, err = p.host.Executor.Run(ctx, cmd)
	if err != nil {
		return nil, NewCommandError(fmt.Sprintf("failed to run %s", cmd.Argv[0]), err).WithPackage(in.Package)
	}
	p.tel.CommandExecuted(ctx, cmd.Argv[0], res.ExitCode, res.Duration)
	return res, nil
}

type packageSnapshot struct {
	name string
	body io.ReadCloser
}

// resolve checks build prerequisites, looks the package up and opens the snapshot.
func (p *BuildPipeline) resolve(ctx context.Context, pkg string) (*packageSnapshot, error) {
	if _, err := p.host.Paths.LookPath(buildPrerequisite); err != nil {
		return nil, NewHelperUnavailableError(buildPrerequisite, err).WithPackage(pkg)
	}

	info, err := p.index.Info(ctx, pkg)
	p.tel.IndexRequest("info", err)
	if err != nil {
		return nil, NewFetchError("failed to query package index", err).WithPackage(pkg)
	}
	if info.ResultCount != 1 || len(info.Results) != 1 {
		return nil, NewPackageNotFoundError(pkg, info.ResultCount)
	}
	result := info.Results[0]

	body, err := p.index.Download(ctx, result.URLPath)
	p.tel.IndexRequest("snapshot", err)
	if err != nil {
		return nil, NewFetchError("failed to download package snapshot", err).WithPackage(pkg)
	}

	name := result.Name
	if name == "" {
		name = pkg
	}
	return &packageSnapshot{name: name, body: body}, nil
}

// stage populates the workspace and returns the build command.
func (p *BuildPipeline) stage(ws *workspace.Workspace, in BuildInput, meta *packageSnapshot) (Command, error) {
	opts := CommandOptions{
		SkipSignatureCheck: in.SkipSignatureCheck,
		IgnoreArch:         in.IgnoreArch,
	}
	cmd := Command{Env: localeEnv()}

	if meta != nil {
		if err := ws.Extract(meta.body); err != nil {
			return Command{}, NewFetchError("failed to extract package snapshot", err).WithPackage(in.Package)
		}
		cmd.Dir = ws.Path(meta.name)
	} else {
		if err := ws.CopyFrom(p.sourceFs, in.LocalSourceDir); err != nil {
			return Command{}, NewFilesystemError("failed to copy local PKGBUILD directory", err).WithPackage(in.Package)
		}
		cmd.Dir = ws.Root()
		if !in.Helper.IsBuildPath() {
			opts.LocalSource = ws.Path("PKGBUILD")
		} else {
			opts.LocalSource = cmd.Dir
		}
	}

	argv, err := BuildCommand(in.Helper, opts, in.ExtraArgs)
	if err != nil {
		return Command{}, err
	}
	cmd.Argv = argv
	return cmd, nil
}
