// Package testutil provides shared helpers for the integration tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gopkg.in/yaml.v3"

	"pkgkeeper/internal/ports"
)

const feedRoot = "/srv/feed"

// FeedPackage is one package version served by StartFeedServer together
// with the contents of its payload files.
type FeedPackage struct {
	ID           string
	Version      string
	Dependencies []string
	Files        map[string]string
}

// StartFeedServer serves an HTTP package feed from a python container and
// returns its endpoint.
func StartFeedServer(ctx context.Context, t *testing.T, packages []FeedPackage) (string, func()) {
	t.Helper()
	script, err := buildFeedServerScript(packages)
	require.NoError(t, err)
	req := testcontainers.ContainerRequest{
		Image:        "python:3.12-alpine",
		ExposedPorts: []string{"8081/tcp"},
		Cmd:          []string{"python", "-c", script},
		WaitingFor:   wait.ForListeningPort("8081/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8081/tcp")
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())
	cleanup := func() {
		_ = container.Terminate(ctx)
	}
	return endpoint, cleanup
}

func buildFeedServerScript(packages []FeedPackage) (string, error) {
	index := struct {
		Packages []ports.FeedPackage `yaml:"packages"`
	}{}
	var builder strings.Builder
	builder.WriteString("import os\n")
	builder.WriteString(fmt.Sprintf("root = %q\n", feedRoot))
	builder.WriteString("def put(rel, body):\n")
	builder.WriteString("    path = os.path.join(root, rel)\n")
	builder.WriteString("    os.makedirs(os.path.dirname(path), exist_ok=True)\n")
	builder.WriteString("    with open(path, \"w\") as f:\n")
	builder.WriteString("        f.write(body)\n")
	for _, pkg := range packages {
		var files []string
		for name := range pkg.Files {
			files = append(files, name)
		}
		sort.Strings(files)
		for _, name := range files {
			rel := strings.Join([]string{pkg.ID, pkg.Version, name}, "/")
			builder.WriteString(fmt.Sprintf("put(%q, %q)\n", rel, pkg.Files[name]))
		}
		index.Packages = append(index.Packages, ports.FeedPackage{
			ID:           pkg.ID,
			Version:      pkg.Version,
			Dependencies: pkg.Dependencies,
			Files:        files,
		})
	}
	data, err := yaml.Marshal(index)
	if err != nil {
		return "", err
	}
	builder.WriteString(fmt.Sprintf("put(\"index.yaml\", %q)\n", string(data)))
	builder.WriteString("os.execvp(\"python\", [\"python\", \"-m\", \"http.server\", \"8081\", \"--directory\", root])\n")
	return builder.String(), nil
}
