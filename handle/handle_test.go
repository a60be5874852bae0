package handle

import "testing"

func TestPathRasterWrapUnwrap(t *testing.T) {
	p := NewPath(42)
	if p.Handle() != 42 {
		t.Fatalf("Path.Handle() = %d, want 42", p.Handle())
	}
	r := NewRaster(7)
	if r.Handle() != 7 {
		t.Fatalf("Raster.Handle() = %d, want 7", r.Handle())
	}
}

func TestRefcountPackUnpack(t *testing.T) {
	cases := []struct{ host, device uint16 }{
		{0, 0}, {1, 1}, {65535, 0}, {0, 65535}, {1234, 5678},
	}
	for _, c := range cases {
		rc := packRefcount(c.host, c.device)
		if rc.host() != c.host {
			t.Errorf("packRefcount(%d,%d).host() = %d, want %d", c.host, c.device, rc.host(), c.host)
		}
		if rc.device() != c.device {
			t.Errorf("packRefcount(%d,%d).device() = %d, want %d", c.host, c.device, rc.device(), c.device)
		}
	}
}

func TestRefcountLiveDead(t *testing.T) {
	if !packRefcount(1, 0).isLive() {
		t.Error("host=1,device=0 should be live")
	}
	if !packRefcount(0, 1).isLive() {
		t.Error("host=0,device=1 should be live")
	}
	if !packRefcount(0, 0).isDead() {
		t.Error("host=0,device=0 should be dead")
	}
	if packRefcount(0, 0).isLive() {
		t.Error("host=0,device=0 should not be live")
	}
}
