package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steed-rs/ngdp/blte"
	"github.com/steed-rs/ngdp/cdn"
	"github.com/steed-rs/ngdp/espec"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/ribbit"
	"github.com/steed-rs/ngdp/tact/encoding"
	"github.com/steed-rs/ngdp/tact/root"
)

func buildRootManifest(t *testing.T, ck ckey.ContentKey) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("TSFM")
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeU32(1) // total_file_count
	writeU32(1) // named_file_count
	writeU32(1) // one record
	writeU32(uint32(root.ContentFlagLoadOnWindows))
	writeU32(uint32(root.LocaleAll))
	writeU32(uint32(42)) // delta for fileDataID 42 starting from -1
	buf.Write(ck[:])
	var nameHash [8]byte
	binary.LittleEndian.PutUint64(nameHash[:], 0xAABBCCDD)
	buf.Write(nameHash[:])
	return buf.Bytes()
}

func buildInstallManifest(t *testing.T, ek ckey.EncodingKey, size uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("IN")
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // hash size

	writeU16 := func(v uint16) {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		buf.Write(b[:])
	}
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	writeU16(1) // one tag
	writeU32(1) // one entry

	buf.WriteString("Windows")
	buf.WriteByte(0)
	writeU16(1)
	buf.WriteByte(0b10000000)

	buf.WriteString("data/file.dat")
	buf.WriteByte(0)
	buf.Write(ek[:])
	writeU32(size)

	return buf.Bytes()
}

// sortByKey orders entries so encoding's page-lookup binary search sees
// monotonically increasing keys, mirroring the corpus's own encoding tests.
func sortByKey(ce []encoding.CEKeyEntry, ek []encoding.EKeySpecEntry) {
	sort.Slice(ce, func(i, j int) bool { return bytes.Compare(ce[i].CKey[:], ce[j].CKey[:]) < 0 })
	sort.Slice(ek, func(i, j int) bool { return bytes.Compare(ek[i].EKey[:], ek[j].EKey[:]) < 0 })
}

func TestSessionOpenAndInstallSelected(t *testing.T) {
	content := []byte("hello casc world, this is a test asset")
	encoded, err := blte.Encode(content, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	ck := ckey.SumContent(content)
	ek := ckey.SumEncoding(encoded)

	rootRaw := buildRootManifest(t, ck)
	rootEncoded, err := blte.Encode(rootRaw, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	rootCKey := ckey.SumContent(rootRaw)
	rootEKey := ckey.SumEncoding(rootEncoded)

	installRaw := buildInstallManifest(t, ek, uint32(len(content)))
	installEncoded, err := blte.Encode(installRaw, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	installCKey := ckey.SumContent(installRaw)
	installEKey := ckey.SumEncoding(installEncoded)

	ceEntries := []encoding.CEKeyEntry{
		{FileSize: uint64(len(content)), CKey: ck, EKeys: []ckey.EncodingKey{ek}},
		{FileSize: uint64(len(rootRaw)), CKey: rootCKey, EKeys: []ckey.EncodingKey{rootEKey}},
		{FileSize: uint64(len(installRaw)), CKey: installCKey, EKeys: []ckey.EncodingKey{installEKey}},
	}
	ekEntries := []encoding.EKeySpecEntry{
		{EKey: ek, EspecIndex: 0, FileSize: uint64(len(encoded))},
		{EKey: rootEKey, EspecIndex: 0, FileSize: uint64(len(rootEncoded))},
		{EKey: installEKey, EspecIndex: 0, FileSize: uint64(len(installEncoded))},
	}
	sortByKey(ceEntries, ekEntries)

	encTableRaw, err := encoding.Build([]string{"n"}, ceEntries, ekEntries)
	require.NoError(t, err)
	encTableEncoded, err := blte.Encode(encTableRaw, espec.Raw{}, blte.EncodeOptions{})
	require.NoError(t, err)
	encTableEKey := ckey.SumEncoding(encTableEncoded)

	const cdnPath = "tpr/test"
	const buildConfigHash = "aabbccddeeff00112233445566778899"
	const cdnConfigHash = "112233445566778899aabbccddeeff00"

	buildConfigText := "root = " + rootCKey.String() + "\n" +
		"install = " + installCKey.String() + "\n" +
		"encoding = " + ck.String() + " " + encTableEKey.String() + "\n" +
		"build-name = test-build\n"
	cdnConfigText := "archives =\n"

	mux := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := mux[r.URL.Path[1:]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	pb := cdn.NewClient(nil, cdnPath)
	mux[pb.ConfigPath(buildConfigHash)] = []byte(buildConfigText)
	mux[pb.ConfigPath(cdnConfigHash)] = []byte(cdnConfigText)
	mux[pb.DataPath(encTableEKey.String())] = encTableEncoded
	mux[pb.DataPath(rootEKey.String())] = rootEncoded
	mux[pb.DataPath(installEKey.String())] = installEncoded
	mux[pb.DataPath(ek.String())] = encoded

	opts := Options{
		DataDir:     t.TempDir(),
		Region:      "us",
		InstallTags: []string{"Windows"},
	}
	cdnEntry := ribbit.CDNEntry{
		Region:  "us",
		Path:    cdnPath,
		Servers: []string{srv.Listener.Addr().String()},
	}
	versions := ribbit.VersionsEntry{
		Region:      "us",
		BuildConfig: buildConfigHash,
		CDNConfig:   cdnConfigHash,
	}

	ctx := context.Background()
	sess, err := Open(ctx, opts, cdnEntry, versions)
	require.NoError(t, err)

	require.NoError(t, sess.InstallSelected(ctx))

	fs := sess.State.FileState(ek)
	require.True(t, fs.Done())

	require.NoError(t, sess.Close())
}
