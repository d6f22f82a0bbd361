package kubeclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

const (
	inClusterTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	inClusterCAFile    = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"

	dialTimeout     = 10 * time.Second
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	keepAlive       = 75 * time.Second
	idleConnTimeout = keepAlive
)

// ConnInfo is the resolved connection target: a base URL plus whatever
// TLS/bearer material is needed to dial the apiserver. connection.go's
// job is to produce exactly one of these, from either in-cluster
// credentials or a kubeconfig, before the Pool ever builds a socket.
type ConnInfo struct {
	Host       string
	TLSConfig  *tls.Config
	BearerFunc func() (string, error)
}

// resolveConnInfo tries in-cluster credentials first, then falls back to
// a kubeconfig resolved from KUBECONFIG (colon-separated) or
// ~/.kube/config, matching kubectl's own precedence.
func resolveConnInfo() (*ConnInfo, error) {
	if info, ok, err := inClusterConnInfo(); ok || err != nil {
		return info, err
	}
	return kubeconfigConnInfo()
}

func inClusterConnInfo() (*ConnInfo, bool, error) {
	host := os.Getenv("KUBERNETES_SERVICE_HOST")
	port := os.Getenv("KUBERNETES_SERVICE_PORT_HTTPS")
	if port == "" {
		port = os.Getenv("KUBERNETES_SERVICE_PORT")
	}
	if host == "" || port == "" {
		return nil, false, nil
	}

	caBytes, err := os.ReadFile(inClusterCAFile)
	if err != nil {
		return nil, true, errors.Wrap(err, "reading in-cluster CA file")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, true, fmt.Errorf("no certificates found in %s", inClusterCAFile)
	}

	tokenFile := inClusterTokenFile
	bearerFunc := func() (string, error) {
		b, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", errors.Wrap(err, "reading in-cluster service account token")
		}
		return strings.TrimSpace(string(b)), nil
	}

	return &ConnInfo{
		Host:       "https://" + net.JoinHostPort(host, port),
		TLSConfig:  &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		BearerFunc: bearerFunc,
	}, true, nil
}

func kubeconfigPaths() []string {
	if v := os.Getenv("KUBECONFIG"); v != "" {
		return filepath.SplitList(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".kube", "config")}
}

func kubeconfigConnInfo() (*ConnInfo, error) {
	paths := kubeconfigPaths()
	if len(paths) == 0 {
		return nil, fmt.Errorf("no in-cluster credentials and no kubeconfig path configured")
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{Precedence: paths}
	rawConfig, err := loadingRules.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading kubeconfig")
	}

	return connInfoFromAPIConfig(rawConfig)
}

func connInfoFromAPIConfig(cfg *clientcmdapi.Config) (*ConnInfo, error) {
	if cfg.CurrentContext == "" {
		return nil, fmt.Errorf("kubeconfig has no current-context")
	}
	kubeCtx, ok := cfg.Contexts[cfg.CurrentContext]
	if !ok {
		return nil, fmt.Errorf("kubeconfig current-context %q not found among contexts", cfg.CurrentContext)
	}
	cluster, ok := cfg.Clusters[kubeCtx.Cluster]
	if !ok {
		return nil, fmt.Errorf("kubeconfig cluster %q (referenced by context %q) not found", kubeCtx.Cluster, cfg.CurrentContext)
	}
	authInfo, ok := cfg.AuthInfos[kubeCtx.AuthInfo]
	if !ok {
		return nil, fmt.Errorf("kubeconfig user %q (referenced by context %q) not found", kubeCtx.AuthInfo, cfg.CurrentContext)
	}

	if authInfo.Exec != nil {
		return nil, ErrExecCredentialsUnsupported
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cluster.InsecureSkipTLSVerify} //nolint:gosec // opt-in via kubeconfig field

	if !cluster.InsecureSkipTLSVerify {
		pool := x509.NewCertPool()
		caBytes, err := caBytesFromCluster(cluster)
		if err != nil {
			return nil, err
		}
		if len(caBytes) > 0 {
			if !pool.AppendCertsFromPEM(caBytes) {
				return nil, fmt.Errorf("no certificates found in kubeconfig cluster CA data")
			}
			tlsConfig.RootCAs = pool
		}
	}

	certBytes, keyBytes, err := clientCertAndKey(authInfo)
	if err != nil {
		return nil, err
	}
	if len(certBytes) > 0 && len(keyBytes) > 0 {
		cert, err := tls.X509KeyPair(certBytes, keyBytes)
		if err != nil {
			return nil, errors.Wrap(err, "parsing kubeconfig client certificate/key")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	bearerFunc, err := bearerFuncFromAuthInfo(authInfo)
	if err != nil {
		return nil, err
	}

	return &ConnInfo{
		Host:       strings.TrimSuffix(cluster.Server, "/"),
		TLSConfig:  tlsConfig,
		BearerFunc: bearerFunc,
	}, nil
}

func caBytesFromCluster(cluster *clientcmdapi.Cluster) ([]byte, error) {
	if len(cluster.CertificateAuthorityData) > 0 {
		return cluster.CertificateAuthorityData, nil
	}
	if cluster.CertificateAuthority != "" {
		b, err := os.ReadFile(cluster.CertificateAuthority)
		if err != nil {
			return nil, errors.Wrap(err, "reading kubeconfig CA file")
		}
		return b, nil
	}
	return nil, nil
}

func clientCertAndKey(authInfo *clientcmdapi.AuthInfo) ([]byte, []byte, error) {
	cert := authInfo.ClientCertificateData
	key := authInfo.ClientKeyData
	var err error
	if len(cert) == 0 && authInfo.ClientCertificate != "" {
		cert, err = os.ReadFile(authInfo.ClientCertificate)
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading kubeconfig client certificate file")
		}
	}
	if len(key) == 0 && authInfo.ClientKey != "" {
		key, err = os.ReadFile(authInfo.ClientKey)
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading kubeconfig client key file")
		}
	}
	return cert, key, nil
}

func bearerFuncFromAuthInfo(authInfo *clientcmdapi.AuthInfo) (func() (string, error), error) {
	if authInfo.Token != "" {
		token := authInfo.Token
		return func() (string, error) { return token, nil }, nil
	}
	if authInfo.TokenFile != "" {
		tokenFile := authInfo.TokenFile
		return func() (string, error) {
			b, err := os.ReadFile(tokenFile)
			if err != nil {
				return "", errors.Wrap(err, "reading kubeconfig tokenFile")
			}
			return strings.TrimSpace(string(b)), nil
		}, nil
	}
	// No bearer token configured is valid (mTLS-only auth).
	return func() (string, error) { return "", nil }, nil
}

// newConnectionFactory builds the Pool factory: each call constructs one
// *http.Client backed by a Transport capped at a single connection, so
// that each Pool slot really is a dedicated socket.
func newConnectionFactory(info *ConnInfo) func() (*connection, error) {
	return func() (*connection, error) {
		transport := &http.Transport{
			TLSClientConfig:     info.TLSConfig,
			DialContext:         (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
			IdleConnTimeout:     idleConnTimeout,
			MaxIdleConnsPerHost: 1,
			MaxConnsPerHost:     1,
		}
		return &connection{
			client: &http.Client{
				Transport: transport,
				Timeout:   0, // per-request timeouts are applied via context deadlines
			},
		}, nil
	}
}
