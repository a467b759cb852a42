package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeconfigEnv selects an out-of-cluster kubeconfig for the secret lookup.
const KubeconfigEnv = "PROXVPS_KUBECONFIG"

// Credentials are the API login values read from a secret.
type Credentials struct {
	User                  string
	Password              string
	InsecureSkipTLSVerify bool
}

// ClientsetFactory builds the Kubernetes client used to read secrets.
type ClientsetFactory func() (kubernetes.Interface, error)

// DefaultClientset uses the kubeconfig named by PROXVPS_KUBECONFIG when it
// exists and the in-cluster configuration otherwise.
func DefaultClientset() (kubernetes.Interface, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if path := os.Getenv(KubeconfigEnv); path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			restCfg, err = clientcmd.BuildConfigFromFlags("", path)
			if err != nil {
				return nil, fmt.Errorf("load kubeconfig %s: %w", path, err)
			}
		}
	}
	if restCfg == nil {
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("build in-cluster config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

// LoadCredentials fetches and validates the credentials referenced by ref.
func LoadCredentials(ctx context.Context, ref *CredentialsRef, newClient ClientsetFactory) (Credentials, error) {
	if ref == nil {
		return Credentials{}, fmt.Errorf("credentialsRef is required")
	}
	if newClient == nil {
		newClient = DefaultClientset
	}

	clientset, err := newClient()
	if err != nil {
		return Credentials{}, err
	}

	secret, err := clientset.CoreV1().Secrets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch secret %s/%s: %w", ref.Namespace, ref.Name, err)
	}

	user := strings.TrimSpace(string(secret.Data["PROXMOX_USER"]))
	if user == "" {
		return Credentials{}, fmt.Errorf("secret %s/%s missing PROXMOX_USER", ref.Namespace, ref.Name)
	}

	// The password is used verbatim; surrounding spaces may be significant.
	password := string(secret.Data["PROXMOX_PASSWORD"])
	if password == "" {
		return Credentials{}, fmt.Errorf("secret %s/%s missing PROXMOX_PASSWORD", ref.Namespace, ref.Name)
	}

	insecure := false
	if raw, ok := secret.Data["PROXMOX_SKIP_TLS_VERIFY"]; ok {
		val := strings.TrimSpace(string(raw))
		if val != "" {
			parsed, err := strconv.ParseBool(val)
			if err != nil {
				return Credentials{}, fmt.Errorf("secret %s/%s invalid PROXMOX_SKIP_TLS_VERIFY: %w", ref.Namespace, ref.Name, err)
			}
			insecure = parsed
		}
	}

	return Credentials{
		User:                  user,
		Password:              password,
		InsecureSkipTLSVerify: insecure,
	}, nil
}

// ResolveCredentials fills the server login from its credentialsRef. Configs
// without a reference are left untouched.
func (c *Config) ResolveCredentials(ctx context.Context, newClient ClientsetFactory) error {
	if c.Server.CredentialsRef == nil {
		return nil
	}
	creds, err := LoadCredentials(ctx, c.Server.CredentialsRef, newClient)
	if err != nil {
		return err
	}
	c.Server.User = creds.User
	c.Server.Password = creds.Password
	c.Server.InsecureSkipTLSVerify = creds.InsecureSkipTLSVerify
	return nil
}
