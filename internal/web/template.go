package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/presence-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"utc": func(t time.Time) string {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Presence Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Presence Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Occupancy</h2>
<table>
<tr><th>State</th><td id="occupancy" class="{{if .Occupied}}on{{else}}off{{end}}">{{if .Occupied}}OCCUPIED{{else}}VACANT{{end}}</td></tr>
{{if .Occupied}}<tr><th>Since</th><td>{{utc .OccupiedSince}}</td></tr>
<tr><th>Session</th><td>{{.SessionID}}</td></tr>{{end}}
<tr><th>Detection</th><td id="detection">{{if .DetectionEnabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Grace period</th><td>{{.GracePeriodSeconds}}s{{if .GraceArmed}} (armed){{end}}</td></tr>
<tr><th>Indicator</th><td>{{.Indicator}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Network</th><td id="phase">{{.Network.Phase}} ({{.Network.Interface}})</td></tr>
{{if .Network.IP}}<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
<tr><th>Retries</th><td>{{.Network.RetryCount}} / {{.Network.MaxRetries}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Clock</th><td>{{if .Time.Synced}}synced via {{.Time.Server}} ({{.Time.Offset}}){{else}}not synced{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Events</th><td>{{.EventsProcessed}}{{if .LastEvent}} (last: {{.LastEvent}}){{end}}</td></tr>
<tr><th>Dropped</th><td>{{.QueueDropped}}</td></tr>
<tr><th>Sensor pin</th><td>{{.Config.SensorPin}}{{if .Config.ActiveLow}} (active low){{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var occ = document.getElementById("occupancy");
  var det = document.getElementById("detection");
  var phase = document.getElementById("phase");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var s = JSON.parse(m.data).status;
        occ.textContent = s.occupancy.occupied ? "OCCUPIED" : "VACANT";
        occ.className = s.occupancy.occupied ? "on" : "off";
        det.textContent = s.detection.enabled ? "enabled" : "disabled";
        phase.textContent = s.network.phase + " (" + s.network.interface + ")";
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
