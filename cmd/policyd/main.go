// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command policyd runs the audio-routing policy engine standalone,
// against a live PulseAudio instance and a PDP reachable on the system
// bus. It takes the place of the in-process module load the original
// implementation used, wiring the same module parameters as command
// line flags.
package main

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"

	"github.com/nemoaudio/policyd/internal/classify"
	"github.com/nemoaudio/policyd/internal/config"
	"github.com/nemoaudio/policyd/internal/context"
	"github.com/nemoaudio/policyd/internal/engine"
	"github.com/nemoaudio/policyd/internal/group"
	"github.com/nemoaudio/policyd/internal/hostaudio"
	"github.com/nemoaudio/policyd/internal/logging"
	"github.com/nemoaudio/policyd/internal/pdp"
	"github.com/nemoaudio/policyd/internal/registry"
)

var log = logging.Named("main")

func main() {
	configFile := flag.String("config_file", "/etc/policyd/policy.conf", "primary config file")
	configDir := flag.String("config_dir", "/etc/policyd/policy.conf.d", "config directory loaded in addition to config_file")
	dbusIfName := flag.String("dbus_if_name", "com.nokia.policy", "PDP interface name")
	dbusMyPath := flag.String("dbus_my_path", "/com/nemoaudio/policyd", "object path this process exports")
	dbusPolicydPath := flag.String("dbus_policyd_path", "/com/nokia/policy", "PDP object path")
	dbusPolicydName := flag.String("dbus_policyd_name", "com.nokia.policy", "PDP well-known bus name")
	nullSinkName := flag.String("null_sink_name", "null", "name of the sink used to quarantine muted-by-route streams")
	preempt := flag.String("preempt", "off", "on|off: whether the default group preempts on media activity")
	flag.Parse()

	if *preempt != "on" && *preempt != "off" {
		fmt.Fprintf(os.Stderr, "invalid value %q for -preempt, want on|off\n", *preempt)
		os.Exit(1)
	}

	classifier := classify.New(group.DefaultGroupName)
	groups := group.NewSet()
	ctxEngine := context.NewEngine()
	activity := context.NewActivityEngine()
	reg := registry.New()
	targets := config.Targets{Classifier: classifier, Groups: groups, Context: ctxEngine, Activity: activity, Registry: reg}

	loader := &config.Loader{Fs: afero.NewOsFs(), ConfigFile: *configFile, ConfigDir: *configDir}
	if err := loader.Load(targets); err != nil {
		log.Fatal("failed to load configuration", "err", err)
	}

	host, err := hostaudio.NewPulseHost("policyd", *nullSinkName)
	if err != nil {
		log.Fatal("failed to connect to audio server", "err", err)
	}
	defer host.Close()

	e := engine.New(host, host, classifier, groups, ctxEngine, activity, reg, *preempt == "on")

	transport, err := pdp.NewTransport(pdp.Config{
		InterfaceName: *dbusIfName,
		MyPath:        dbus.ObjectPath(*dbusMyPath),
		PolicydPath:   dbus.ObjectPath(*dbusPolicydPath),
		PolicydName:   *dbusPolicydName,
		Signals:       []string{"stream_info", "audio_actions"},
	}, e)
	if err != nil {
		log.Fatal("failed to start PDP transport", "err", err)
	}
	defer transport.Close()
	e.Transport = transport

	watcher, err := config.WatchDir(*configDir)
	if err != nil {
		log.Warn("config directory watch disabled", "err", err)
	} else {
		defer watcher.Close()
		go func() {
			for range watcher.Updates {
				log.Info("config directory changed, reloading")
				if err := loader.Load(targets); err != nil {
					log.Error("config reload failed", "err", err)
				}
			}
		}()
	}

	log.Info("policyd started", "config_file", *configFile, "config_dir", *configDir)
	e.Run()
}
