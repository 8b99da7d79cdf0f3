package wizard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apexhq/apex/internal/config"
)

// Run walks the user through the apex configuration and writes the
// result to <projectPath>/.apex/config.yaml. Re-running presents the
// current values as defaults.
func Run(projectPath string) error {
	cfg, err := config.Load(projectPath)
	if err != nil {
		return err
	}

	w := New(setupSteps()...).WithState(seedState(cfg))
	if err := w.Run(); err != nil {
		return err
	}
	if err := apply(w.State(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.Save(projectPath, cfg)
}

func setupSteps() []Step {
	timeUsageOff := func(s State) bool {
		enabled, _ := s["timeUsage"].(bool)
		return !enabled
	}

	return []Step{
		NewInputStep("dailyBudget", "Daily budget").
			WithDescription("Maximum spend per day in USD across all tasks.").
			WithPlaceholder("50.00").
			WithValidate(validatePositiveFloat),

		NewInputStep("maxConcurrent", "Concurrent tasks").
			WithDescription("How many tasks may execute at the same time.").
			WithPlaceholder("3").
			WithValidate(validatePositiveInt),

		NewSelectStep("autonomy", "Default autonomy", []Option{
			{Value: "full", Label: "Full", Hint: "merge without review"},
			{Value: "review-before-merge", Label: "Review before merge", Hint: "wait for PR approval"},
			{Value: "manual", Label: "Manual", Hint: "pause at every gate"},
		}).WithDescription("How much oversight new tasks get by default."),

		NewConfirmStep("pushAfterTask", "Push branches automatically?").
			WithDescription("Push the task branch to origin when a task finishes.").
			WithDefault(false),

		NewConfirmStep("timeUsage", "Enable time-based capacity?").
			WithDescription("Throttle daytime spending so interactive hours keep headroom."),

		NewInputStep("dayHours", "Day hours").
			WithDescription("Local hours treated as daytime, e.g. 9-17 or 8,9,10.").
			WithPlaceholder("9-17").
			WithValidate(validateHours).
			WithSkipFunc(timeUsageOff),

		NewInputStep("nightHours", "Night hours").
			WithDescription("Local hours treated as night, e.g. 18-23. May wrap past midnight (22-6).").
			WithPlaceholder("18-23").
			WithValidate(validateHours).
			WithSkipFunc(timeUsageOff),

		NewSelectStep("provider", "Hosting provider", []Option{
			{Value: "auto", Label: "Auto-detect", Hint: "from the origin remote"},
			{Value: "github", Label: "GitHub"},
			{Value: "gitlab", Label: "GitLab"},
		}).WithDescription("Where pull requests are opened and polled."),

		NewInputStep("tokenEnv", "Token environment variable").
			WithDescription("Leave empty for the provider default (GITHUB_TOKEN / GITLAB_TOKEN).").
			WithPlaceholder("GITHUB_TOKEN"),

		NewInputStep("serverPort", "API port").
			WithDescription("Port for the daemon's REST and WebSocket API.").
			WithPlaceholder("7433").
			WithValidate(validatePort),

		NewDisplayStep("summary", "Review", summaryView).
			WithDescription("Enter writes .apex/config.yaml, esc abandons setup."),
	}
}

// seedState maps the current configuration onto wizard state so every
// step starts from what is configured today.
func seedState(cfg *config.Config) State {
	return State{
		"dailyBudget":   strconv.FormatFloat(cfg.Limits.DailyBudget, 'f', -1, 64),
		"maxConcurrent": strconv.Itoa(cfg.Limits.MaxConcurrentTasks),
		"autonomy":      cfg.Autonomy.Default,
		"pushAfterTask": cfg.Git.PushAfterTask,
		"timeUsage":     cfg.Daemon.TimeBasedUsage.Enabled,
		"dayHours":      formatHours(cfg.Daemon.TimeBasedUsage.DayModeHours),
		"nightHours":    formatHours(cfg.Daemon.TimeBasedUsage.NightModeHours),
		"provider":      providerOrAuto(cfg.Hosting.Provider),
		"tokenEnv":      cfg.Hosting.TokenEnvVar,
		"serverPort":    strconv.Itoa(cfg.Server.Port),
	}
}

// apply writes the collected answers back into cfg. Every value was
// validated by its step, so parse errors here indicate a missing or
// foreign state entry.
func apply(state State, cfg *config.Config) error {
	str := func(key string) (string, error) {
		v, ok := state[key].(string)
		if !ok {
			return "", fmt.Errorf("setup: missing answer for %s", key)
		}
		return v, nil
	}

	budget, err := str("dailyBudget")
	if err != nil {
		return err
	}
	if cfg.Limits.DailyBudget, err = strconv.ParseFloat(budget, 64); err != nil {
		return fmt.Errorf("setup: daily budget %q: %w", budget, err)
	}

	concurrent, err := str("maxConcurrent")
	if err != nil {
		return err
	}
	if cfg.Limits.MaxConcurrentTasks, err = strconv.Atoi(concurrent); err != nil {
		return fmt.Errorf("setup: concurrent tasks %q: %w", concurrent, err)
	}

	if cfg.Autonomy.Default, err = str("autonomy"); err != nil {
		return err
	}
	if v, ok := state["pushAfterTask"].(bool); ok {
		cfg.Git.PushAfterTask = v
	}

	enabled, _ := state["timeUsage"].(bool)
	cfg.Daemon.TimeBasedUsage.Enabled = enabled
	if enabled {
		day, err := str("dayHours")
		if err != nil {
			return err
		}
		if cfg.Daemon.TimeBasedUsage.DayModeHours, err = parseHours(day); err != nil {
			return err
		}
		night, err := str("nightHours")
		if err != nil {
			return err
		}
		if cfg.Daemon.TimeBasedUsage.NightModeHours, err = parseHours(night); err != nil {
			return err
		}
	}

	provider, err := str("provider")
	if err != nil {
		return err
	}
	if provider == "auto" {
		provider = ""
	}
	cfg.Hosting.Provider = provider
	if cfg.Hosting.TokenEnvVar, err = str("tokenEnv"); err != nil {
		return err
	}

	port, err := str("serverPort")
	if err != nil {
		return err
	}
	if cfg.Server.Port, err = strconv.Atoi(port); err != nil {
		return fmt.Errorf("setup: api port %q: %w", port, err)
	}
	return nil
}

func summaryView(s State) string {
	line := func(label, value string) string {
		return fmt.Sprintf("  %-18s %s\n", label, value)
	}
	boolWord := func(key string) string {
		if v, _ := s[key].(bool); v {
			return "yes"
		}
		return "no"
	}

	var b strings.Builder
	b.WriteString(line("Daily budget", "$"+str(s, "dailyBudget")))
	b.WriteString(line("Concurrent tasks", str(s, "maxConcurrent")))
	b.WriteString(line("Autonomy", str(s, "autonomy")))
	b.WriteString(line("Auto-push", boolWord("pushAfterTask")))
	b.WriteString(line("Time-based usage", boolWord("timeUsage")))
	if v, _ := s["timeUsage"].(bool); v {
		b.WriteString(line("  Day hours", str(s, "dayHours")))
		b.WriteString(line("  Night hours", str(s, "nightHours")))
	}
	b.WriteString(line("Hosting", str(s, "provider")))
	if env := str(s, "tokenEnv"); env != "" {
		b.WriteString(line("  Token env", env))
	}
	b.WriteString(line("API port", str(s, "serverPort")))
	return b.String()
}

func str(s State, key string) string {
	v, _ := s[key].(string)
	return v
}

func providerOrAuto(p string) string {
	if p == "" {
		return "auto"
	}
	return p
}

func validatePositiveFloat(v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

func validatePositiveInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive whole number")
	}
	return nil
}

func validatePort(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("enter a port between 1 and 65535")
	}
	return nil
}

func validateHours(v string) error {
	_, err := parseHours(v)
	return err
}

// parseHours reads an hour set like "9-17", "22-6" (wrapping past
// midnight), or "8,9,14". Hours are local, 0-23, returned sorted and
// deduplicated.
func parseHours(v string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			start, err := parseHour(from)
			if err != nil {
				return nil, err
			}
			end, err := parseHour(to)
			if err != nil {
				return nil, err
			}
			for h := start; ; h = (h + 1) % 24 {
				seen[h] = true
				if h == end {
					break
				}
			}
			continue
		}
		h, err := parseHour(part)
		if err != nil {
			return nil, err
		}
		seen[h] = true
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("enter hours like 9-17 or 8,9,10")
	}

	hours := make([]int, 0, len(seen))
	for h := range seen {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	return hours, nil
}

func parseHour(v string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q is not an hour between 0 and 23", v)
	}
	return h, nil
}

// formatHours renders an hour set for editing: a single contiguous run
// (with wrap) prints as "start-end", anything else as a comma list.
func formatHours(hours []int) string {
	if len(hours) == 0 {
		return ""
	}
	sorted := append([]int(nil), hours...)
	sort.Ints(sorted)

	if len(sorted) == 1 {
		return strconv.Itoa(sorted[0])
	}

	// Count the gaps in the sorted cycle; one gap means one run.
	gaps, gapAfter := 0, -1
	for i, h := range sorted {
		next := sorted[(i+1)%len(sorted)]
		step := (next - h + 24) % 24
		if step != 1 {
			gaps++
			gapAfter = i
		}
	}
	if gaps == 1 {
		start := sorted[(gapAfter+1)%len(sorted)]
		end := sorted[gapAfter]
		return fmt.Sprintf("%d-%d", start, end)
	}

	parts := make([]string, len(sorted))
	for i, h := range sorted {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}
