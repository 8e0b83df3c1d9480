package bench

import (
	"fmt"
	"math/rand"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikhailWahib/gravelmmdb"
	"github.com/MikhailWahib/gravelmmdb/internal/testdb"
)

const numNetworks = 4096

var mmapCfg = &gravelmmdb.Config{Mode: gravelmmdb.ModeMmap}

var fileCfg = &gravelmmdb.Config{Mode: gravelmmdb.ModeFile}

func generateRecord(i int) map[string]any {
	return map[string]any{
		"city":     map[string]any{"geoname_id": uint32(i), "names": map[string]string{"en": fmt.Sprintf("City %d", i)}},
		"country":  map[string]any{"iso_code": "US", "names": map[string]string{"en": "United States", "de": "USA"}},
		"location": map[string]any{"latitude": 37.751, "longitude": -97.822, "accuracy_radius": uint16(1000)},
	}
}

// networkAddr returns an address inside the i-th /24 network of the database.
func networkAddr(i int, host byte) netip.Addr {
	return netip.AddrFrom4([4]byte{10 + byte(i>>16), byte(i >> 8), byte(i), host})
}

func setupBenchDB(b *testing.B, cfg *gravelmmdb.Config) (*gravelmmdb.DB, func()) {
	builder := testdb.New(6, 28)
	builder.PointerKeys = true
	for i := 0; i < numNetworks; i++ {
		builder.Insert(netip.PrefixFrom(networkAddr(i, 0), 24), generateRecord(i))
	}

	tmpDir := filepath.Join(os.TempDir(), fmt.Sprintf("gravelmmdb_bench_%d", rand.Int63()))
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		b.Fatalf("Failed to create bench dir: %v", err)
	}
	path := filepath.Join(tmpDir, "bench.mmdb")
	if err := os.WriteFile(path, builder.Build(), 0o644); err != nil {
		b.Fatalf("Failed to write database: %v", err)
	}

	db, err := gravelmmdb.Open(path, cfg)
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func BenchmarkLookup(b *testing.B) {
	db, cleanup := setupBenchDB(b, mmapCfg)
	defer cleanup()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		res, err := db.Lookup(networkAddr(i%numNetworks, 7))
		if err != nil || !res.Found {
			b.Fatalf("lookup failed: %v", err)
		}
	}
}

func BenchmarkLookupString(b *testing.B) {
	db, cleanup := setupBenchDB(b, mmapCfg)
	defer cleanup()

	addrs := make([]string, 1024)
	for i := range addrs {
		addrs[i] = networkAddr(rand.Intn(numNetworks), byte(i)).String()
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := db.LookupString(addrs[i%len(addrs)]); err != nil {
			b.Fatalf("lookup failed: %v", err)
		}
	}
}

func BenchmarkGetValue(b *testing.B) {
	db, cleanup := setupBenchDB(b, mmapCfg)
	defer cleanup()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		res, err := db.Lookup(networkAddr(rand.Intn(numNetworks), 1))
		if err != nil {
			b.Fatalf("lookup failed: %v", err)
		}
		_, found, err := res.Entry.GetValue("country", "iso_code")
		if err != nil || !found {
			b.Fatalf("value not found: %v", err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	db, cleanup := setupBenchDB(b, mmapCfg)
	defer cleanup()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		res, err := db.Lookup(networkAddr(rand.Intn(numNetworks), 1))
		if err != nil {
			b.Fatalf("lookup failed: %v", err)
		}
		if _, err := res.Entry.Decode(); err != nil {
			b.Fatalf("decode failed: %v", err)
		}
	}
}

func BenchmarkFileBackedGetValue(b *testing.B) {
	db, cleanup := setupBenchDB(b, fileCfg)
	defer cleanup()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		res, err := db.Lookup(networkAddr(rand.Intn(numNetworks), 1))
		if err != nil {
			b.Fatalf("lookup failed: %v", err)
		}
		if _, _, err := res.Entry.GetValue("city", "names", "en"); err != nil {
			b.Fatalf("get value failed: %v", err)
		}
	}
}

func BenchmarkConcurrentLookup(b *testing.B) {
	db, cleanup := setupBenchDB(b, mmapCfg)
	defer cleanup()

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			res, err := db.Lookup(networkAddr(rand.Intn(numNetworks), 9))
			if err != nil || !res.Found {
				b.Fatalf("lookup failed: %v", err)
			}
		}
	})
}
