// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/AleutianAI/AleutianStats/services/engine/config"
)

func TestApplyOverrides(t *testing.T) {
	defer func() {
		flagListen, flagDataDir, flagLogLevel = "", "", ""
	}()

	cfg := config.Default()
	flagListen = "0.0.0.0:9999"
	flagDataDir = "/tmp/statengine-test"
	flagLogLevel = "debug"

	out := applyOverrides(cfg)
	if out.Listen != "0.0.0.0:9999" {
		t.Errorf("Listen = %q, want the flag value", out.Listen)
	}
	if out.DataDir != "/tmp/statengine-test" {
		t.Errorf("DataDir = %q, want the flag value", out.DataDir)
	}
	if out.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", out.Log.Level)
	}
	// Untouched fields come through from the loaded config.
	if out.EngineSlots != cfg.EngineSlots {
		t.Errorf("EngineSlots changed: %d != %d", out.EngineSlots, cfg.EngineSlots)
	}
}

func TestApplyOverridesKeepsConfigWhenFlagsEmpty(t *testing.T) {
	flagListen, flagDataDir, flagLogLevel = "", "", ""
	cfg := config.Default()
	out := applyOverrides(cfg)
	if out != cfg {
		t.Errorf("empty flags must not modify the config: %+v != %+v", out, cfg)
	}
}
