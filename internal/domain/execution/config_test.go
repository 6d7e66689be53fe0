package execution

import "testing"

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := []Config{
		{},
		{Backend: BackendLocal},
		{Backend: BackendDockerInteractive, Docker: &DockerConfig{Image: "ubuntu"}},
		{Backend: BackendRemote, Remote: &RemoteConfig{Host: "gpu-box"}},
		{Backend: BackendModal},
	}
	for _, c := range ok {
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", c, err)
		}
	}

	bad := []Config{
		{Backend: "kubernetes"},
		{Backend: BackendRemote},
		{Backend: BackendRemote, Remote: &RemoteConfig{}},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", c)
		}
	}
}

func TestResolveDefaultsToLocal(t *testing.T) {
	t.Parallel()

	eff := Resolve(nil, nil)
	if eff.Backend != BackendLocal {
		t.Errorf("default backend = %q, want local", eff.Backend)
	}
}

func TestResolveNodeOverridesProject(t *testing.T) {
	t.Parallel()

	project := &Config{
		Backend: BackendDocker,
		Docker:  &DockerConfig{Image: "base:latest", Memory: "4g"},
		Sandbox: &SandboxConfig{Enabled: true, FinalizeAction: FinalizeCommit},
	}
	node := &Config{Backend: BackendModal, Modal: &ModalConfig{GPU: "A100"}}

	eff := Resolve(node, project)
	if eff.Backend != BackendModal {
		t.Errorf("backend = %q, want modal", eff.Backend)
	}
	if eff.Modal == nil || eff.Modal.GPU != "A100" {
		t.Errorf("modal config not taken from node: %+v", eff.Modal)
	}
	// Fields the node does not set fall through from the project.
	if eff.Docker == nil || eff.Docker.Image != "base:latest" {
		t.Errorf("docker config not inherited: %+v", eff.Docker)
	}
	if eff.Sandbox == nil || !eff.Sandbox.Enabled {
		t.Errorf("sandbox config not inherited: %+v", eff.Sandbox)
	}
}

func TestResolveProjectOnly(t *testing.T) {
	t.Parallel()

	project := &Config{Backend: BackendRemote, Remote: &RemoteConfig{Host: "h1", User: "ci"}}
	eff := Resolve(nil, project)
	if eff.Backend != BackendRemote || eff.Remote == nil || eff.Remote.Host != "h1" {
		t.Errorf("project config not applied: %+v", eff)
	}
}
