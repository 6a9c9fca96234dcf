// Package etcdtest provides test support for obtaining a client to an Etcd server.
package etcdtest

import (
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// TestClient returns a client of the embedded Etcd test server. It asserts that
// the Etcd keyspace is empty before returning to the client. In other words,
// it asserts that the prior test cleaned up after itself. If no `etcd` binary
// is installed, the test is skipped.
func TestClient(t testing.TB) *clientv3.Client {
	if _etcdClient == nil {
		t.Skip("etcd binary is not installed")
	}
	var resp, err = _etcdClient.Get(context.Background(), "", clientv3.WithPrefix(), clientv3.WithLimit(5))
	if err != nil {
		t.Fatal(err)
	} else if len(resp.Kvs) != 0 {
		t.Fatalf("etcd not empty; did a previous test not clean up?\n%+v", resp)
	}
	return _etcdClient
}

// Cleanup is called at the completion of each test using TestClient,
// to remove any remaining key/value fixtures in the Etcd store.
func Cleanup() {
	if _etcdClient == nil {
		return
	} else if _, err := _etcdClient.Delete(context.Background(), "", clientv3.WithPrefix()); err != nil {
		log.WithField("err", err).Fatal("failed to clean up etcd")
	}
}

var (
	_cmd        *exec.Cmd
	_etcdClient *clientv3.Client
)

// TestMainWithEtcd is to be called by other packages which require
// functionality of the etcdtest package, before those tests run, as:
//
//	func TestMain(m *testing.M) { etcdtest.TestMainWithEtcd(m) }
//
// This TestMain function is automatically invoked by the `go test`
// tool, providing an opportunity to start the embedded Etcd server
// prior to test invocations.
func TestMainWithEtcd(m *testing.M) {
	var bin, err = exec.LookPath("etcd")
	if err != nil {
		log.Warn("etcd binary not found; tests requiring etcd will be skipped")
		os.Exit(m.Run())
	}

	_cmd = exec.Command(bin,
		"--listen-peer-urls", "unix://peer.sock:0",
		"--listen-client-urls", "unix://client.sock:0",
		"--advertise-client-urls", "unix://client.sock:0",
	)
	_cmd.Env = append(_cmd.Env, "ETCD_LOG_LEVEL=error", "ETCD_LOGGER=zap")
	_cmd.Env = append(_cmd.Env, os.Environ()...)
	log.WithField("args", _cmd.Args).Info("starting etcd")

	if _cmd.Dir, err = ioutil.TempDir("", "etcdtest"); err != nil {
		log.WithField("err", err).Fatal("failed to create etcd directory")
	}
	_cmd.Stdout = os.Stdout
	_cmd.Stderr = os.Stderr
	_cmd.SysProcAttr = getSysProcAttr()

	if err = _cmd.Start(); err != nil {
		log.WithField("err", err).Fatal("failed to start etcd")
	}

	os.Exit(func() int {
		// Defer Etcd tear-down.
		defer func() {
			if err = _cmd.Process.Signal(syscall.SIGTERM); err != nil {
				log.WithField("err", err).Fatal("failed to TERM etcd")
			}
			_ = _cmd.Wait()

			if err = os.RemoveAll(_cmd.Dir); err != nil {
				log.WithFields(log.Fields{"dir": _cmd.Dir, "err": err}).
					Fatal("failed to remove etcd tmp directory")
			}
		}()

		var ep = "unix://" + _cmd.Dir + "/client.sock:0"
		log.WithField("endpoint", ep).Info("using etcd test endpoint")

		if _etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   []string{ep},
			DialTimeout: 5 * time.Second,
		}); err != nil {
			log.WithField("err", err).Fatal("failed to build etcd client")
		}

		// Verify the test client works, waiting for etcd to come up.
		var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err = _etcdClient.Get(ctx, "", clientv3.WithPrefix(), clientv3.WithLimit(1)); err != nil {
			log.WithField("err", err).Fatal("etcd is not reachable")
		}
		return m.Run()
	}())
}
