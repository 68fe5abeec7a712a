package main

import (
	"fmt"
	"time"

	ini "gopkg.in/ini.v1"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	sipPort       int
	sipPortRange  int
	publicAddress string
	userAgent     string
	domain        string

	telephonyEnabled     bool
	connectReportDelayMs int

	pendingActionFile string
	deviceTokenFile   string

	credentialsFile   string
	metricsListen     string
	backgroundGraceMs int
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipPortRange = sec.Key("port_range").MustInt(0)
	s.publicAddress = sec.Key("public_address").String()
	s.userAgent = sec.Key("user_agent").MustString("callbridge")
	s.domain = sec.Key("domain").String()

	sec = cfg.Section("telephony")
	s.telephonyEnabled = sec.Key("enabled").MustBool(true)
	s.connectReportDelayMs = sec.Key("connect_report_delay_ms").MustInt(500)

	sec = cfg.Section("push")
	s.pendingActionFile = sec.Key("pending_action_file").MustString("pending_action.json")
	s.deviceTokenFile = sec.Key("device_token_file").MustString("device_token")

	sec = cfg.Section("app")
	s.credentialsFile = sec.Key("credentials_file").MustString("credentials.ini")
	s.metricsListen = sec.Key("metrics_listen").String()
	s.backgroundGraceMs = sec.Key("background_grace_ms").MustInt(3000)

	if s.domain == "" {
		return nil, fmt.Errorf("sip domain must be set")
	}

	return s, nil
}

func (s *Settings) SIPPort() int          { return s.sipPort }
func (s *Settings) SIPPortRange() int     { return s.sipPortRange }
func (s *Settings) PublicAddress() string { return s.publicAddress }
func (s *Settings) UserAgent() string     { return s.userAgent }
func (s *Settings) Domain() string        { return s.domain }

func (s *Settings) TelephonyEnabled() bool { return s.telephonyEnabled }

func (s *Settings) ConnectReportDelay() time.Duration {
	return time.Duration(s.connectReportDelayMs) * time.Millisecond
}

func (s *Settings) PendingActionFile() string { return s.pendingActionFile }
func (s *Settings) DeviceTokenFile() string   { return s.deviceTokenFile }

func (s *Settings) CredentialsFile() string { return s.credentialsFile }
func (s *Settings) MetricsListen() string   { return s.metricsListen }

func (s *Settings) BackgroundGrace() time.Duration {
	return time.Duration(s.backgroundGraceMs) * time.Millisecond
}
