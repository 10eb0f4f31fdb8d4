package p4mesh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
)

// writeTestPipeline writes the test p4info (text format) and a dummy bmv2 json to dir.
func writeTestPipeline(t *testing.T, dir string) (string, string) {
	t.Helper()

	p4InfoPath := filepath.Join(dir, "data_plane.p4info")
	deviceConfigPath := filepath.Join(dir, "data_plane.json")

	b, err := prototext.Marshal(testP4Info())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p4InfoPath, b, 0o600))
	require.NoError(t, os.WriteFile(deviceConfigPath, []byte(`{"program": "data_plane.p4"}`), 0o600))

	return p4InfoPath, deviceConfigPath
}

func TestLoadPipelineText(t *testing.T) {
	p4InfoPath, deviceConfigPath := writeTestPipeline(t, t.TempDir())

	p, err := LoadPipeline(p4InfoPath, deviceConfigPath)
	require.NoError(t, err)

	if diff := cmp.Diff(testP4Info(), p.P4Info, protocmp.Transform()); diff != "" {
		t.Fatalf("p4info mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, []byte(`{"program": "data_plane.p4"}`), p.DeviceConfig)
	require.Equal(t, p4InfoPath, p.P4InfoPath)
	require.Equal(t, deviceConfigPath, p.DeviceConfigPath)
}

func TestLoadPipelineBinary(t *testing.T) {
	dir := t.TempDir()

	_, deviceConfigPath := writeTestPipeline(t, dir)

	b, err := proto.Marshal(testP4Info())
	require.NoError(t, err)

	p4InfoPath := filepath.Join(dir, "data_plane.p4info.pb")
	require.NoError(t, os.WriteFile(p4InfoPath, b, 0o600))

	p, err := LoadPipeline(p4InfoPath, deviceConfigPath)
	require.NoError(t, err)
	require.Len(t, p.P4Info.GetTables(), 4)
}

func TestLoadPipelineErrors(t *testing.T) {
	dir := t.TempDir()

	p4InfoPath, deviceConfigPath := writeTestPipeline(t, dir)

	_, err := LoadPipeline(filepath.Join(dir, "missing.p4info"), deviceConfigPath)
	require.ErrorIs(t, err, ErrConfig)

	_, err = LoadPipeline(p4InfoPath, filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, ErrConfig)

	garbage := filepath.Join(dir, "garbage.p4info")
	require.NoError(t, os.WriteFile(garbage, []byte("tables { this is not prototext"), 0o600))

	_, err = LoadPipeline(garbage, deviceConfigPath)
	require.ErrorIs(t, err, ErrConfig)
}
