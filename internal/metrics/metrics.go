package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"

	"github.com/TedsterDev/tesla-vision/internal/hardware"
	"github.com/TedsterDev/tesla-vision/internal/usbgadget"
)

const namespace = "gadgetmode"

var modes = []usbgadget.Mode{
	usbgadget.ModeUnbound,
	usbgadget.ModeExport,
	usbgadget.ModeDev,
	usbgadget.ModeConflict,
}

func gauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// NewRegistry returns a registry holding the gadget state in report plus
// build information.
func NewRegistry(report *usbgadget.ModeReport) *prometheus.Registry {
	version.Version = hardware.AppVersion()

	reg := prometheus.NewRegistry()
	reg.MustRegister(versioncollector.NewCollector(namespace))

	present := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gadget_present",
		Help:      "Whether the gadget directory exists in configfs.",
	}, []string{"gadget"})
	bound := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gadget_bound",
		Help:      "Whether the gadget is bound to a UDC.",
	}, []string{"gadget", "udc"})
	attached := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lun_attached",
		Help:      "Whether LUN 0 of the gadget has a backing file.",
	}, []string{"gadget"})
	readOnly := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lun_read_only",
		Help:      "Whether LUN 0 of the gadget is exported read-only.",
	}, []string{"gadget"})
	mode := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mode",
		Help:      "Current gadget mode, 1 for the active one.",
	}, []string{"mode"})
	reg.MustRegister(present, bound, attached, readOnly, mode)

	for _, g := range report.Gadgets {
		present.WithLabelValues(g.Name).Set(gauge(g.Present))
		bound.WithLabelValues(g.Name, g.Udc).Set(gauge(g.Bound()))
		attached.WithLabelValues(g.Name).Set(gauge(g.Lun.File != ""))
		readOnly.WithLabelValues(g.Name).Set(gauge(g.Lun.ReadOnly))
	}
	for _, m := range modes {
		mode.WithLabelValues(string(m)).Set(gauge(report.Mode == m))
	}
	return reg
}

// WriteTextfile writes report in the node_exporter textfile format. The
// file is replaced atomically.
func WriteTextfile(path string, report *usbgadget.ModeReport) error {
	return prometheus.WriteToTextfile(path, NewRegistry(report))
}
