package kind

import "testing"

func TestGroupVersionResource(t *testing.T) {
	d := Descriptor{Group: "example.com", Version: "v1", Plural: "widgets"}
	gvr := d.GroupVersionResource()
	if gvr.Group != "example.com" || gvr.Version != "v1" || gvr.Resource != "widgets" {
		t.Errorf("GroupVersionResource() = %+v", gvr)
	}
}

func TestGroupVersionKind(t *testing.T) {
	d := Descriptor{Group: "example.com", Version: "v1", Kind: "Widget"}
	gvk := d.GroupVersionKind()
	if gvk.Group != "example.com" || gvk.Version != "v1" || gvk.Kind != "Widget" {
		t.Errorf("GroupVersionKind() = %+v", gvk)
	}
}

func TestDescriptorString(t *testing.T) {
	d := Descriptor{Group: "example.com", Version: "v1", Kind: "Widget", Plural: "widgets"}
	want := "widgets.example.com/v1, Kind=Widget"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestObjectKeyString(t *testing.T) {
	tests := []struct {
		key  ObjectKey
		want string
	}{
		{ObjectKey{Namespace: "default", Name: "a"}, "default/a"},
		{ObjectKey{Name: "cluster-scoped"}, "cluster-scoped"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("ObjectKey(%+v).String() = %q, want %q", tt.key, got, tt.want)
		}
	}
}
