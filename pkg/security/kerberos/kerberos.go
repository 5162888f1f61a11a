package kerberos

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/dittorpc/internal/logger"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/security"
	"github.com/marmos91/dittorpc/pkg/session"
)

// Name is the class name of the kerberos security manager.
const Name = "kerberos"

// Manager validates sessions against a Kerberos realm.
//
// Options:
//
//	krb5conf           path of krb5.conf (default /etc/krb5.conf)
//	realm              realm of user principals (default: krb5.conf default_realm)
//	keytab             service keytab, enables service ticket verification
//	service_principal  principal the service ticket is requested for
//	disable_fast       disable PA-FX-FAST (default true)
type Manager struct {
	application      string
	realm            string
	servicePrincipal string
	disableFAST      bool
	krb5Conf         *krb5config.Config

	keytabPath    string
	keytabManager *KeytabManager

	mu     sync.RWMutex
	keytab *keytab.Keytab
}

// New is the security.Factory of Manager.
func New(application string, opts security.Options) (security.Manager, error) {
	krb5ConfPath := resolveKrb5ConfPath(opts.Get("krb5conf", ""))
	krbCfg, err := loadKrb5Conf(krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", krb5ConfPath, err)
	}

	realm := opts.Get("realm", krbCfg.LibDefaults.DefaultRealm)
	if realm == "" {
		return nil, fmt.Errorf("kerberos realm not configured (set realm or default_realm in krb5.conf)")
	}

	disableFAST, err := strconv.ParseBool(opts.Get("disable_fast", "true"))
	if err != nil {
		return nil, fmt.Errorf("disable_fast: %w", err)
	}

	m := &Manager{
		application:      application,
		realm:            realm,
		servicePrincipal: resolveServicePrincipal(opts.Get("service_principal", "")),
		disableFAST:      disableFAST,
		krb5Conf:         krbCfg,
		keytabPath:       resolveKeytabPath(opts.Get("keytab", "")),
	}

	if m.keytabPath != "" {
		if m.servicePrincipal == "" {
			return nil, fmt.Errorf("kerberos service principal not configured (set service_principal or DITTORPC_KERBEROS_PRINCIPAL)")
		}
		kt, err := loadKeytab(m.keytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab %s: %w", m.keytabPath, err)
		}
		m.keytab = kt

		km := NewKeytabManager(m.keytabPath, m)
		if err := km.Start(); err != nil {
			logger.Warn("Keytab hot-reload failed to start, continuing without it",
				"path", m.keytabPath, "error", err)
		}
		m.keytabManager = km
	}

	return m, nil
}

// Realm returns the realm user principals belong to.
func (m *Manager) Realm() string {
	return m.realm
}

// Keytab returns the current keytab, or nil when none is configured.
func (m *Manager) Keytab() *keytab.Keytab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keytab
}

// ReloadKeytab re-reads the keytab file and swaps it. The old keytab stays
// active when the new one cannot be parsed.
func (m *Manager) ReloadKeytab() error {
	kt, err := loadKeytab(m.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", m.keytabPath, err)
	}

	m.mu.Lock()
	m.keytab = kt
	m.mu.Unlock()
	return nil
}

// Validate logs in as the session's user. With a keytab, the service
// ticket issued to the user must decrypt with the service key, which proves
// the KDC is the one the server trusts.
func (m *Manager) Validate(ctx context.Context, s *session.Session) error {
	user, password := security.Credentials(s)
	if user == "" || password == "" {
		return rpcerrors.NewSecurityError(s.Application(), "missing credentials")
	}

	cl := client.NewWithPassword(user, m.realm, password, m.krb5Conf, client.DisablePAFXFAST(m.disableFAST))
	defer cl.Destroy()

	if err := cl.Login(); err != nil {
		logger.DebugCtx(ctx, "Kerberos login failed", "user", user, "realm", m.realm, "error", err)
		return rpcerrors.NewSecurityError(s.Application(), "invalid credentials")
	}

	kt := m.Keytab()
	if kt == nil {
		return nil
	}

	tkt, _, err := cl.GetServiceTicket(m.servicePrincipal)
	if err != nil {
		logger.WarnCtx(ctx, "Kerberos service ticket request failed",
			"user", user, "service_principal", m.servicePrincipal, "error", err)
		return rpcerrors.NewSecurityError(s.Application(), "service ticket unavailable")
	}
	if err := tkt.DecryptEncPart(kt, nil); err != nil {
		logger.WarnCtx(ctx, "Kerberos service ticket verification failed",
			"user", user, "service_principal", m.servicePrincipal, "error", err)
		return rpcerrors.NewSecurityError(s.Application(), "service ticket verification failed")
	}
	return nil
}

// Release stops keytab polling. Safe to call multiple times.
func (m *Manager) Release(context.Context) error {
	if m.keytabManager != nil {
		m.keytabManager.Stop()
	}
	return nil
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}

// loadKrb5Conf reads and parses a Kerberos configuration file.
func loadKrb5Conf(path string) (*krb5config.Config, error) {
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}
	return cfg, nil
}
