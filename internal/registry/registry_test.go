package registry

import "testing"

func TestOpenInputs_IgnoredDeviceFails(t *testing.T) {
	r := New(true)
	r.SetIgnored([]string{"Blocked Device"})

	opened, failures := r.OpenInputs(PortRecord{Name: "Blocked Device", Port: 0})
	if len(opened) != 0 {
		t.Fatalf("expected no devices opened, got %d", len(opened))
	}
	if len(failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(failures))
	}
	if failures[0].Record.Name != "Blocked Device" {
		t.Errorf("failure record = %+v", failures[0].Record)
	}
}

func TestOpenOutputs_IgnoredDeviceFails(t *testing.T) {
	r := New(true)
	r.SetIgnored([]string{"Blocked Device"})

	opened, failures := r.OpenOutputs(PortRecord{Name: "Blocked Device", Port: 0})
	if len(opened) != 0 || len(failures) != 1 {
		t.Fatalf("opened=%d failures=%d, want 0/1", len(opened), len(failures))
	}
}

func TestDeviceMap_ReportsOpenDevicesByKey(t *testing.T) {
	r := New(false)

	rec := PortRecord{Name: "Test Synth", Port: 0, Nickname: "synth"}
	r.inputs[rec.key()] = &inputDevice{record: rec, open: true}

	dm := r.DeviceMap()
	if _, ok := dm["Test Synth/0"]; !ok {
		t.Fatalf("expected DeviceMap to contain Test Synth/0, got %v", dm)
	}
}

func TestDeviceMapByName_FiltersAcrossInputsAndOutputs(t *testing.T) {
	r := New(false)

	in := PortRecord{Name: "Shared", Port: 0, Nickname: "in"}
	out := PortRecord{Name: "Shared", Port: 1, Nickname: "out"}
	other := PortRecord{Name: "Other", Port: 0, Nickname: "other"}

	r.inputs[in.key()] = &inputDevice{record: in, open: true}
	r.outputs[out.key()] = &outputDevice{record: out, open: true}
	r.outputs[other.key()] = &outputDevice{record: other, open: true}

	devices := r.DeviceMapByName("Shared")
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices named Shared, got %d", len(devices))
	}
}

func TestHandleAdd_HotplugDisabledIsNoop(t *testing.T) {
	r := New(false)
	dev, err := r.HandleAdd(PortRecord{Name: "Whatever"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev != nil {
		t.Fatalf("expected nil device when hotplug disabled, got %v", dev)
	}
}

func TestSetIgnored_ReplacesList(t *testing.T) {
	r := New(false)
	r.SetIgnored([]string{"A", "B"})
	if !r.isIgnored("A") || !r.isIgnored("B") {
		t.Fatal("expected A and B to be ignored")
	}

	r.SetIgnored([]string{"C"})
	if r.isIgnored("A") {
		t.Fatal("expected A to no longer be ignored after SetIgnored replaces the list")
	}
	if !r.isIgnored("C") {
		t.Fatal("expected C to be ignored")
	}
}
