package jwtx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

type refreshLog struct {
	mu      sync.Mutex
	results []error
}

func (l *refreshLog) record(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, err)
}

func (l *refreshLog) failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, err := range l.results {
		if err != nil {
			n++
		}
	}
	return n
}

func (l *refreshLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

func TestProviderKeysLoad(t *testing.T) {
	k1 := newRSAKey(t, "k1")
	k2 := newECKey(t, "k2")
	srv := newJWKSServer(t, k1.jwk(t), k2.jwk(t))

	log := &refreshLog{}
	keys := newProviderKeys(t, srv, jwtx.KeysOptions{OnRefresh: log.record})

	ctx := context.Background()
	require.True(t, keys.Ready(ctx))
	require.Equal(t, 2, keys.Count(ctx))
	require.Equal(t, srv.srv.URL, keys.URL())
	require.Equal(t, 1, log.len())
	require.Zero(t, log.failures())
}

func TestProviderKeysRefetchOnUnknownKid(t *testing.T) {
	k1 := newRSAKey(t, "k1")
	k2 := newRSAKey(t, "k2")
	k3 := newRSAKey(t, "k3")
	srv := newJWKSServer(t, k1.jwk(t))

	keys := newProviderKeys(t, srv, jwtx.KeysOptions{UnknownKIDInterval: time.Hour})
	v := jwtx.NewProviderVerifier(keys, jwtx.VerifyOptions{Issuer: testIssuer})
	require.Equal(t, int32(1), srv.hits.Load())

	// Provider rotates its signing key
	srv.rotate(t, k1.jwk(t), k2.jwk(t))

	claims, err := v.Verify(k2.sign(t, validClaims("john123")))
	require.NoError(t, err)
	require.Equal(t, "john123", claims.Principal())
	require.Equal(t, int32(2), srv.hits.Load())

	t.Run("further misses are throttled", func(t *testing.T) {
		srv.rotate(t, k1.jwk(t), k2.jwk(t), k3.jwk(t))
		for range 5 {
			_, err := v.Verify(k3.sign(t, validClaims("john123")))
			require.ErrorIs(t, err, jwtx.ErrUnknownKID)
		}
		require.Equal(t, int32(2), srv.hits.Load())

		// Known keys are unaffected
		_, err := v.Verify(k1.sign(t, validClaims("john123")))
		require.NoError(t, err)
	})
}

func TestProviderKeysConcurrentMissesDoNotQueue(t *testing.T) {
	k1 := newRSAKey(t, "k1")
	ghost := newRSAKey(t, "ghost")
	srv := newJWKSServer(t, k1.jwk(t))

	keys := newProviderKeys(t, srv, jwtx.KeysOptions{UnknownKIDInterval: time.Hour})
	v := jwtx.NewProviderVerifier(keys, jwtx.VerifyOptions{Issuer: testIssuer})
	token := ghost.sign(t, validClaims("john123"))

	start := time.Now()
	errs := make(chan error, 20)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	}

	require.Less(t, time.Since(start), 2*time.Second)
	require.LessOrEqual(t, srv.hits.Load(), int32(2))
}

func TestProviderKeysKeepKeysOnFailure(t *testing.T) {
	k1 := newRSAKey(t, "k1")
	srv := newJWKSServer(t, k1.jwk(t))

	log := &refreshLog{}
	keys := newProviderKeys(t, srv, jwtx.KeysOptions{
		RefreshInterval: 20 * time.Millisecond,
		OnRefresh:       log.record,
	})
	v := jwtx.NewProviderVerifier(keys, jwtx.VerifyOptions{Issuer: testIssuer})

	srv.setFailing(true)
	require.Eventually(t, func() bool { return log.failures() > 0 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, keys.Ready(context.Background()))
	_, err := v.Verify(k1.sign(t, validClaims("john123")))
	require.NoError(t, err)
}

func TestProviderKeysFirstFetchFailure(t *testing.T) {
	k1 := newRSAKey(t, "k1")
	srv := newJWKSServer(t, k1.jwk(t))
	srv.setFailing(true)

	log := &refreshLog{}
	keys := newProviderKeys(t, srv, jwtx.KeysOptions{
		UnknownKIDInterval: time.Hour,
		OnRefresh:          log.record,
	})
	require.False(t, keys.Ready(context.Background()))
	require.Equal(t, 1, log.failures())

	// The first token recovers the set
	srv.setFailing(false)
	v := jwtx.NewProviderVerifier(keys, jwtx.VerifyOptions{Issuer: testIssuer})
	_, err := v.Verify(k1.sign(t, validClaims("john123")))
	require.NoError(t, err)
	require.True(t, keys.Ready(context.Background()))
}

func TestProviderKeysCloseStopsRefresh(t *testing.T) {
	k1 := newRSAKey(t, "k1")
	srv := newJWKSServer(t, k1.jwk(t))

	keys := newProviderKeys(t, srv, jwtx.KeysOptions{RefreshInterval: 10 * time.Millisecond})
	require.Eventually(t, func() bool { return srv.hits.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	keys.Close()
	time.Sleep(30 * time.Millisecond)
	settled := srv.hits.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, settled, srv.hits.Load())
}
