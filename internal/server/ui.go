package server

import (
	"net/http"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleAppJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(appJS))
}

const indexHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width,initial-scale=1"/>
  <title>Queue Caller</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; margin: 18px; }
    .row { display:flex; gap:12px; flex-wrap:wrap; align-items:center; margin-top: 12px; }
    .pill { padding: 6px 10px; border: 1px solid #ddd; border-radius: 999px; font-size: 12px; background:#fff; }
    button { padding: 8px 12px; border-radius: 10px; border: 1px solid #111; background:#111; color:#fff; cursor:pointer;}
    button.secondary { background:#fff; color:#111; }
    button:disabled { opacity: 0.4; cursor: not-allowed; }
    input, select { padding:8px; border-radius:10px; border:1px solid #ddd; }
    .board { margin-top: 14px; padding: 18px; border-radius: 14px; background:#fafafa; border: 5px solid #111; text-align:center; }
    .board.calling { border-color: #18a558; }
    .queue { font-size: 96px; font-weight: 800; letter-spacing: 6px; }
    .operator { font-size: 28px; font-weight: 600; color:#444; }
    .clock { color:#666; font-size: 13px; }
    #history { margin-top: 14px; border-top:1px solid #eee; padding-top: 12px; }
    .item { display:flex; gap:12px; padding: 8px 10px; border-bottom: 1px solid #f1f1f1; }
    .item .time { color:#666; font-size: 12px; min-width: 70px; }
    .empty { color:#999; font-style: italic; }
    .mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }
    #toast { position: fixed; right: 18px; bottom: 18px; padding: 12px 16px; border-radius: 10px; background:#111; color:#fff; opacity:0; transition: opacity .2s; }
    #toast.show { opacity: 1; }
  </style>
</head>
<body>
  <h2>Queue Caller</h2>
  <div class="clock"><span id="date"></span> <span id="time" class="mono"></span></div>

  <div class="board" id="board">
    <div class="queue mono" id="queueDisplay">001</div>
    <div class="operator" id="operatorDisplay">OPERATOR 1</div>
  </div>

  <div class="row">
    <button id="prev" class="secondary">&laquo; Prev</button>
    <input id="queueInput" type="number" min="1" value="1"/>
    <button id="next" class="secondary">Next &raquo;</button>
    <select id="operatorSelect">
      <option value="1">Operator 1</option>
      <option value="2">Operator 2</option>
      <option value="3">Operator 3</option>
      <option value="4">Operator 4</option>
      <option value="5">Operator 5</option>
    </select>
    <button id="call">Call</button>
  </div>

  <div class="row">
    <span class="pill">SSE: <span id="sseStatus" class="mono">connecting…</span></span>
    <label>Volume <input id="volume" type="range" min="0" max="1" step="0.05"/></label>
    <span class="pill mono" id="volumeValue">70%</span>
    <button id="test" class="secondary">Test sound</button>
    <button id="stop" class="secondary">Stop</button>
  </div>

  <div class="row">
    <h3 style="margin:0">History</h3>
    <button id="clearHistory" class="secondary">Clear</button>
  </div>
  <div id="history"></div>

  <div id="toast"></div>
  <script src="/app.js"></script>
</body>
</html>`

const appJS = `(() => {
  const $ = (id) => document.getElementById(id);
  let state = null;
  let history = [];
  let toastTimer = null;

  async function post(path) {
    const res = await fetch(path, { method: "POST" });
    if (!res.ok) console.warn(path, res.status, await res.text());
  }

  function renderState() {
    if (!state) return;
    $("queueDisplay").textContent = state.queue_display;
    $("operatorDisplay").textContent = state.operator_display;
    if (document.activeElement !== $("queueInput")) $("queueInput").value = state.queue;
    $("operatorSelect").value = String(state.operator);
    if (document.activeElement !== $("volume")) $("volume").value = state.volume;
    $("volumeValue").textContent = Math.round(state.volume * 100) + "%";
    $("call").disabled = !state.available || state.calling;
    $("test").disabled = !state.available;
    $("board").classList.toggle("calling", state.calling);
  }

  function renderHistory() {
    const el = $("history");
    el.innerHTML = "";
    if (!history.length) {
      el.innerHTML = '<div class="empty">No calls yet</div>';
      return;
    }
    for (const h of history) {
      const row = document.createElement("div");
      row.className = "item";
      const t = document.createElement("span");
      t.className = "time mono";
      t.textContent = h.timestamp;
      const q = document.createElement("span");
      q.className = "pill mono";
      q.textContent = h.queueNumber;
      const o = document.createElement("span");
      o.className = "pill";
      o.textContent = h.operator;
      row.append(t, q, o);
      el.appendChild(row);
    }
  }

  function toast(msg, ttl) {
    $("toast").textContent = msg;
    $("toast").classList.add("show");
    clearTimeout(toastTimer);
    toastTimer = setTimeout(() => $("toast").classList.remove("show"), ttl || 3000);
  }

  function tick() {
    const now = new Date();
    $("date").textContent = now.toLocaleDateString(undefined, { weekday: "long", year: "numeric", month: "long", day: "numeric" });
    $("time").textContent = now.toLocaleTimeString(undefined, { hour12: false });
  }
  tick();
  setInterval(tick, 1000);

  $("call").onclick = () => post("/api/call");
  $("prev").onclick = () => post("/api/navigate?dir=-1");
  $("next").onclick = () => post("/api/navigate?dir=1");
  $("queueInput").onchange = (e) => post("/api/queue?n=" + (parseInt(e.target.value, 10) || 1));
  $("operatorSelect").onchange = (e) => post("/api/operator?n=" + e.target.value);
  $("volume").oninput = (e) => post("/api/volume?v=" + e.target.value);
  $("test").onclick = () => post("/api/test");
  $("stop").onclick = () => post("/api/stop");
  $("clearHistory").onclick = () => {
    if (!history.length) return;
    if (confirm("Clear the whole call history?")) {
      fetch("/api/history", { method: "DELETE" });
    }
  };

  const es = new EventSource("/events");
  es.onopen = () => { $("sseStatus").textContent = "connected"; };
  es.onerror = () => { $("sseStatus").textContent = "reconnecting…"; };
  es.onmessage = (m) => {
    const ev = JSON.parse(m.data);
    switch (ev.type) {
      case "state":
        state = ev.state;
        renderState();
        break;
      case "history":
        history = ev.history || [];
        renderHistory();
        break;
      case "notification":
        toast(ev.message, ev.ttl_ms);
        break;
    }
  };
})();`
