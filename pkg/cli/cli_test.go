package cli

import "testing"

func TestParseArgs_Defaults(t *testing.T) {
	cfg, err := ParseArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ConfigPath != defaultConfigPath {
		t.Errorf("ConfigPath = %q, want %q", cfg.ConfigPath, defaultConfigPath)
	}
	if !cfg.Hotplug {
		t.Error("Hotplug should default to true")
	}
	if cfg.RouteAll || cfg.Configure || cfg.List || cfg.Verbose || cfg.ShowHelp {
		t.Errorf("unexpected non-default flag set in %+v", cfg)
	}
}

func TestParseArgs_Flags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Config
	}{
		{
			name: "all via long flag",
			args: []string{"--all"},
			want: Config{RouteAll: true, ConfigPath: defaultConfigPath, Hotplug: true},
		},
		{
			name: "all via short flag",
			args: []string{"-a"},
			want: Config{RouteAll: true, ConfigPath: defaultConfigPath, Hotplug: true},
		},
		{
			name: "config path",
			args: []string{"-c", "/etc/pimidbox/config.json"},
			want: Config{ConfigPath: "/etc/pimidbox/config.json", Hotplug: true},
		},
		{
			name: "config path followed by another flag",
			args: []string{"-c", "foo.json", "-v"},
			want: Config{ConfigPath: "foo.json", Hotplug: true, Verbose: true},
		},
		{
			name: "list and verbose",
			args: []string{"-l", "-v"},
			want: Config{ConfigPath: defaultConfigPath, Hotplug: true, List: true, Verbose: true},
		},
		{
			name: "hotplug disabled",
			args: []string{"--hotplug=false"},
			want: Config{ConfigPath: defaultConfigPath, Hotplug: false},
		},
		{
			name: "configure wizard",
			args: []string{"--configure"},
			want: Config{ConfigPath: defaultConfigPath, Hotplug: true, Configure: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParseArgs(%v) = %+v, want %+v", tt.args, *got, tt.want)
			}
		})
	}
}

func TestParseArgs_InvalidFlag(t *testing.T) {
	if _, err := ParseArgs([]string{"--not-a-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}
