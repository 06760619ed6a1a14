package supervisor

// workDirFlags maps agent CLI families to the flag that sets their working
// directory. CLIs disagree on the spelling, so launch args are assembled
// per family.
var workDirFlags = map[string]string{
	"opencode":        "--cwd",
	"gemini":          "--include-directories",
	"claude-code-acp": "--cwd",
	"github-copilot":  "--workspace-folder",
	"codex-acp":       "--cwd",
	"auggie":          "--cwd",
	"qwen-code":       "--cwd",
	"kimi":            "--cwd",
	"mistral-vibe":    "--cwd",
}

// WorkDirFlag returns the working-directory flag for an agent family.
// Unknown families get "--cwd".
func WorkDirFlag(family string) string {
	if flag, ok := workDirFlags[family]; ok {
		return flag
	}
	return "--cwd"
}

// BuildArgs appends the family's workdir flag to the base args when a
// workdir is set and the flag is not already present.
func BuildArgs(family string, baseArgs []string, workDir string) []string {
	if workDir == "" {
		return baseArgs
	}
	flag := WorkDirFlag(family)
	for _, arg := range baseArgs {
		if arg == flag {
			return baseArgs
		}
	}
	args := append([]string(nil), baseArgs...)
	return append(args, flag, workDir)
}
