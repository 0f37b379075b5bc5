package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultBypassList holds the hosts Chrome must reach directly, even behind a
// proxy, for the automation channel and component bootstrap to work.
var DefaultBypassList = []string{
	"edgedl.me.gvt1.com",
	"optimizationguide-pa.googleapis.com",
	"accounts.google.com",
	"https://example.com/",
}

// disabledFeatures extends chromedp's own disable-features defaults with the
// optimization-guide downloads that otherwise fire on every launch.
const disabledFeatures = "site-per-process,Translate,BlinkGenPropertyTrees," +
	"OptimizationGuideModelDownloading,OptimizationHintsFetching," +
	"OptimizationTargetPrediction,OptimizationHints"

const defaultNavigationTimeout = 45 * time.Second

// Config controls how the shared browser is launched.
type Config struct {
	Headless          bool
	ExecPath          string
	NoSandbox         bool
	ProxyAddress      string
	BypassList        []string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	// DomainQPS paces navigations per host; zero disables pacing.
	DomainQPS float64
}

func (c Config) withDefaults() (Config, error) {
	if c.NavigationTimeout < 0 {
		return c, fmt.Errorf("navigation timeout must be >= 0, got %v", c.NavigationTimeout)
	}
	if c.NavigationTimeout == 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.DomainQPS < 0 {
		return c, fmt.Errorf("domain qps must be >= 0, got %v", c.DomainQPS)
	}
	if c.BypassList == nil {
		c.BypassList = append([]string(nil), DefaultBypassList...)
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	return c, nil
}

// launchFlags returns the Chrome command-line switches layered on top of
// chromedp.DefaultExecAllocatorOptions. A false value drops the switch.
func launchFlags(c Config) map[string]any {
	flags := map[string]any{
		"blink-settings":                                     "imagesEnabled=false",
		"disable-background-networking":                      true,
		"disable-blink-features":                             "AutomationControlled",
		"disable-component-extensions-with-background-pages": true,
		"disable-component-update":                           true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		"disable-features":                                   disabledFeatures,
		"disable-gpu":                                        true,
		"disable-sync":                                       true,
		"enable-automation":                                  false,
		"ignore-certificate-errors":                          true,
		"incognito":                                          true,
		"proxy-bypass-list":                                  strings.Join(c.BypassList, ","),
		"remote-allow-origins":                               "*",
		"start-maximized":                                    true,
		"headless":                                           false,
	}
	if c.Headless {
		flags["headless"] = "new"
	}
	if c.ProxyAddress != "" {
		flags["proxy-server"] = c.ProxyAddress
	}
	if c.NoSandbox {
		flags["no-sandbox"] = true
	}
	return flags
}

func allocatorOptions(c Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(c) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts, chromedp.WindowSize(c.WindowWidth, c.WindowHeight))
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	return opts
}
