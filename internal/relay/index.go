package relay

import "html/template"

type indexData struct {
	Station int
	WSPath  string
}

// Built-in player: schedules each 20 ms stereo PCM payload on a Web Audio
// timeline, keeping bufferTarget ms queued, and reports its buffer level.
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Station {{.Station}}</title>
</head>
<body>
<h1>Station {{.Station}}</h1>
<button id="play">Listen</button>
<p id="status">stopped</p>
<script>
const wsPath = {{.WSPath}};
let ctx, ws, playAt = 0, bufferTarget = 1000;

document.getElementById("play").onclick = () => {
  ctx = new AudioContext({sampleRate: 48000});
  const proto = location.protocol === "https:" ? "wss://" : "ws://";
  ws = new WebSocket(proto + location.host + wsPath);
  ws.binaryType = "arraybuffer";
  ws.onmessage = (ev) => {
    if (typeof ev.data === "string") {
      const info = JSON.parse(ev.data);
      bufferTarget = info.bufferTarget;
      document.getElementById("status").textContent =
        "seq " + info.sequence + (info.metadata ? " - " + info.metadata : "");
      return;
    }
    const pcm = new Int16Array(ev.data);
    const frames = pcm.length / 2;
    const buf = ctx.createBuffer(2, frames, 48000);
    const l = buf.getChannelData(0), r = buf.getChannelData(1);
    for (let i = 0; i < frames; i++) {
      l[i] = pcm[2 * i] / 32768;
      r[i] = pcm[2 * i + 1] / 32768;
    }
    const src = ctx.createBufferSource();
    src.buffer = buf;
    src.connect(ctx.destination);
    const now = ctx.currentTime;
    if (playAt < now) playAt = now + bufferTarget / 1000;
    src.start(playAt);
    playAt += buf.duration;
  };
  setInterval(() => {
    if (ws.readyState === WebSocket.OPEN) {
      const bufferedMs = Math.max(0, Math.round((playAt - ctx.currentTime) * 1000));
      ws.send(JSON.stringify({bufferedMs}));
    }
  }, 1000);
};
</script>
</body>
</html>
`))
