package internal

import "testing"

func TestDefaultConfigMissingCredentialsFails(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults carry no storage credentials, validation should fail")
	}
}

func TestDefaultConfigWithCredentialsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Media.CloudName = "demo"
	cfg.Media.APIKey = "key"
	cfg.Media.UploadPreset = "preset"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults plus credentials should pass: %v", err)
	}
}

func TestMediaConfig_EachCredentialRequired(t *testing.T) {
	base := MediaConfig{BaseURL: "https://api.cloudinary.com", CloudName: "demo", APIKey: "key", UploadPreset: "preset"}

	tests := []struct {
		name   string
		mutate func(*MediaConfig)
	}{
		{"cloud name", func(c *MediaConfig) { c.CloudName = "" }},
		{"api key", func(c *MediaConfig) { c.APIKey = "" }},
		{"upload preset", func(c *MediaConfig) { c.UploadPreset = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("missing %s should fail validation", tt.name)
			}
		})
	}
}

func TestHTTPConfig_PortBounds(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := HTTPConfig{Port: port}
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should fail validation", port)
		}
	}
	cfg := HTTPConfig{Port: 8080}
	if err := cfg.Validate(); err != nil {
		t.Errorf("port 8080 should pass: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}

func TestApplicationConfig_PublicURLRequired(t *testing.T) {
	cfg := ApplicationConfig{HTTP: HTTPConfig{Port: 8080}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty public_url should fail validation")
	}
}

func TestSQLiteConfig_PathRequired(t *testing.T) {
	cfg := SQLiteConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty sqlite path should fail validation")
	}
}
