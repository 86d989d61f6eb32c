package api

const channelDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Channel Protocol - HAR Relay</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 860px;
      padding: 32px 24px 64px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1 { font-size: 26px; color: #e6edf3; margin: 0 0 8px; }
    h2 { font-size: 18px; color: #e6edf3; margin: 36px 0 12px; padding-bottom: 8px; border-bottom: 1px solid #21262d; }
    code, pre { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 12.5px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #21262d; vertical-align: top; }
    th { color: #8b949e; font-weight: 600; }
  </style>
</head>
<body>
  <p><a href="/docs">&larr; API reference</a></p>
  <h1>Channel Protocol</h1>
  <p>Agents and tab peers connect over WebSocket. Each text frame is one JSON message.</p>

  <h2>Endpoints</h2>
  <table>
    <tr><th>URL</th><th>Role</th></tr>
    <tr><td><code>/connect/devtools</code></td><td>Devtools agent for one tab. Binds to the tab id of its first message.</td></tr>
    <tr><td><code>/connect/content?tab_id=N</code></td><td>Page-side peer for tab N. Binds on its first message.</td></tr>
    <tr><td><code>/events?feeds=bind,unbind,export&amp;tab_id=N</code></td><td>Server-sent events describing routing changes and exports.</td></tr>
  </table>

  <h2>Devtools to hub</h2>
<pre>{"tabId": 7}
{"tabId": 7, "action": "getHAR", "actionId": "a1", "har": {"pages": [...], "entries": [...]}}
{"tabId": 7, "action": "requestFinished", "request": "{...serialized HAR entry...}"}</pre>
  <p>Messages with a <code>har</code> field are written to the native app. Other devtools messages only bind the channel.</p>

  <h2>Content to devtools</h2>
<pre>{"action": "getHAR", "actionId": "a1"}
{"action": "addRequestListener"}
{"action": "removeRequestListener"}</pre>
  <p>Forwarded unchanged to the devtools channel bound to the same tab. Dropped when none is bound.</p>

  <h2>Native app</h2>
  <p>Each exported HAR becomes one frame on the native app's stdin: a 32-bit length in native byte order followed by the JSON text.</p>
</body>
</html>`
