package store

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyAlphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func generateKey(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = keyAlphabet[rand.Intn(len(keyAlphabet))]
	}
	return string(b)
}

func TestPutThenGet(t *testing.T) {
	s := New()

	s.Put("alpha", "1")

	value, found := s.Get("alpha")
	require.True(t, found)
	assert.Equal(t, "1", value)
}

func TestGetMissing(t *testing.T) {
	s := New()

	value, found := s.Get("never-written")
	assert.False(t, found)
	assert.Empty(t, value)
}

func TestPutOverwrites(t *testing.T) {
	s := New()

	s.Put("k", "v1")
	s.Put("k", "v2")

	value, found := s.Get("k")
	require.True(t, found)
	assert.Equal(t, "v2", value)
	assert.Equal(t, 1, s.Len())
}

func TestEmptyValueIsPresent(t *testing.T) {
	s := New()

	s.Put("blank", "")

	value, found := s.Get("blank")
	assert.True(t, found)
	assert.Equal(t, "", value)
}

func TestDelete(t *testing.T) {
	s := New()
	s.Put("k", "v")
	s.Put("other", "x")

	assert.True(t, s.Delete("k"))

	_, found := s.Get("k")
	assert.False(t, found)

	// Second delete is a miss, not an error, and leaves other keys alone.
	assert.False(t, s.Delete("k"))
	assert.Equal(t, 1, s.Len())

	value, found := s.Get("other")
	assert.True(t, found)
	assert.Equal(t, "x", value)
}

func TestDeleteMissingLeavesStoreUnchanged(t *testing.T) {
	s := New()
	s.Put("a", "1")

	assert.False(t, s.Delete("b"))
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	keys := make([]string, 64)
	for i := range keys {
		keys[i] = generateKey(8)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := keys[(g+i)%len(keys)]
				switch i % 3 {
				case 0:
					s.Put(key, "v")
				case 1:
					s.Get(key)
				case 2:
					s.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), len(keys))
}

func BenchmarkStorePut(b *testing.B) {
	s := New()
	keys := make([]string, b.N)
	for i := 0; i < b.N; i++ {
		keys[i] = generateKey(16)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Put(keys[i], "value")
	}
}

func BenchmarkStoreGetHit(b *testing.B) {
	s := New()
	key := generateKey(16)
	s.Put(key, "value")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = s.Get(key)
	}
}

func BenchmarkStoreGetParallelMixed(b *testing.B) {
	s := New()
	numItems := 10000

	keys := make([]string, numItems)
	for i := range numItems {
		keys[i] = generateKey(16)
	}
	for i := range numItems / 2 {
		s.Put(keys[i], "value")
	}

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		keyIndex := rand.Intn(numItems)
		for pb.Next() {
			key := keys[keyIndex%numItems]
			// 80% GET, 20% PUT
			if rand.Intn(10) < 8 {
				_, _ = s.Get(key)
			} else {
				s.Put(key, "value")
			}
			keyIndex++
		}
	})
}
