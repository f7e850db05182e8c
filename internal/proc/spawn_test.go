package proc

import (
	"errors"
	"reflect"
	"testing"
)

func TestShellSpecString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec ShellSpec
		want string
	}{
		{"default", ShellSpec{}, "default"},
		{"distro", NamedDistro("ubuntu"), "distro:ubuntu"},
		{"command", ExplicitCommand([]string{"/bin/sh", "-l"}), "/bin/sh -l"},
	}
	for _, tt := range tests {
		if got := tt.spec.String(); got != tt.want {
			t.Errorf("%s: String() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestResolveArgv(t *testing.T) {
	tests := []struct {
		name          string
		spec          ShellSpec
		defaultDistro string
		shellEnv      string
		want          []string
		wantErr       bool
	}{
		{
			name: "named distro",
			spec: NamedDistro("debian"),
			want: []string{"wsl.exe", "-d", "debian"},
		},
		{
			name:    "empty distro name",
			spec:    ShellSpec{Kind: KindDistro},
			wantErr: true,
		},
		{
			name: "explicit command",
			spec: ExplicitCommand([]string{"python3", "-q"}),
			want: []string{"python3", "-q"},
		},
		{
			name:    "empty command",
			spec:    ExplicitCommand(nil),
			wantErr: true,
		},
		{
			name:          "default with configured distro",
			spec:          ShellSpec{},
			defaultDistro: "ubuntu",
			want:          []string{"wsl.exe", "-d", "ubuntu"},
		},
		{
			name:     "default from SHELL env",
			spec:     ShellSpec{},
			shellEnv: "/usr/bin/zsh",
			want:     []string{"/usr/bin/zsh"},
		},
		{
			name: "default fallback shell",
			spec: ShellSpec{},
			want: []string{"/bin/bash"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SHELL", tt.shellEnv)
			got, err := tt.spec.resolveArgv(tt.defaultDistro)
			if tt.wantErr {
				if !errors.Is(err, ErrSpawnFailed) {
					t.Fatalf("err = %v, want ErrSpawnFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveArgv: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("resolveArgv = %v, want %v", got, tt.want)
			}
		})
	}
}
