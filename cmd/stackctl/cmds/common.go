package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/stackctl/pkg/launch"
	"github.com/go-go-golems/stackctl/pkg/orchestrator"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	RootDir         string
	StackFile       string
	Timeout         time.Duration
	ShutdownTimeout time.Duration
	OnUnhealthy     orchestrator.Policy
	DockerPull      bool
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("root-dir", "", "Working directory for state and logs (defaults to current directory)")
	root.PersistentFlags().String("stack", "", "Path to the stack file (defaults to stack.yaml under root-dir)")
	root.PersistentFlags().Duration("timeout", 10*time.Minute, "Overall deadline for bringing the stack up")
	root.PersistentFlags().Duration("shutdown-timeout", 5*time.Second, "Grace period before a service is killed on stop")
	root.PersistentFlags().String("on-unhealthy", "fail", "What blocked dependents do when a required dependency turns unhealthy: fail | wait")
	root.PersistentFlags().Bool("docker-pull", false, "Pull container images before starting them")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	return rootOptionsFromFlags(cmd.Root().PersistentFlags())
}

func rootOptionsFromFlags(flags *pflag.FlagSet) (rootOptions, error) {
	rootDir, err := flags.GetString("root-dir")
	if err != nil {
		return rootOptions{}, err
	}
	if rootDir == "" {
		rootDir, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	rootDir, err = filepath.Abs(rootDir)
	if err != nil {
		return rootOptions{}, err
	}

	stackFile, err := flags.GetString("stack")
	if err != nil {
		return rootOptions{}, err
	}
	if stackFile == "" {
		stackFile = filepath.Join(rootDir, stack.DefaultStackFilename)
	} else if !filepath.IsAbs(stackFile) {
		stackFile = filepath.Join(rootDir, stackFile)
	}

	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}
	shutdownTimeout, err := flags.GetDuration("shutdown-timeout")
	if err != nil {
		return rootOptions{}, err
	}

	policyStr, err := flags.GetString("on-unhealthy")
	if err != nil {
		return rootOptions{}, err
	}
	policy := orchestrator.Policy(policyStr)
	if policy != orchestrator.PolicyFail && policy != orchestrator.PolicyWait {
		return rootOptions{}, errors.Errorf("unknown --on-unhealthy policy %q", policyStr)
	}

	dockerPull, err := flags.GetBool("docker-pull")
	if err != nil {
		return rootOptions{}, err
	}

	return rootOptions{
		RootDir:         rootDir,
		StackFile:       stackFile,
		Timeout:         timeout,
		ShutdownTimeout: shutdownTimeout,
		OnUnhealthy:     policy,
		DockerPull:      dockerPull,
	}, nil
}

// makeLaunchers builds the exec launcher and, only when the stack actually
// declares images, a docker launcher.
func makeLaunchers(f *stack.File, opts rootOptions) (orchestrator.Launchers, error) {
	launchers := orchestrator.Launchers{
		Exec: launch.NewExecLauncher(opts.RootDir, opts.ShutdownTimeout),
	}
	needsDocker := false
	for _, svc := range f.Services {
		if svc.Image != "" {
			needsDocker = true
			break
		}
	}
	if needsDocker {
		d, err := launch.NewDockerLauncher(launch.DockerOptions{
			StopTimeout: opts.ShutdownTimeout,
			Pull:        opts.DockerPull,
		})
		if err != nil {
			return orchestrator.Launchers{}, err
		}
		launchers.Docker = d
	}
	return launchers, nil
}
