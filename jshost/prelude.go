package jshost

// prelude installs globalThis.bridge, the script side of the protocol:
//
//	bridge.register(name, fn)              expose fn to native code; false if name is taken
//	bridge.call(method, args, onOk, onErr) invoke a native functor, returns the request id
//	bridge.notify(method, args)            invoke without expecting a reply
//	bridge.cancel(id)                      forget a pending call
//
// Native code delivers every inbound message through bridge.receive.
const prelude = `
(function () {
	var post = globalThis.__bridge_post;
	delete globalThis.__bridge_post;

	var nextId = 0;
	var handlers = Object.create(null);
	var pending = Object.create(null);

	function send(msg) {
		msg.jsonrpc = "2.0";
		post(JSON.stringify(msg));
	}

	function reply(id, msg) {
		if (id === undefined) return;
		msg.id = id;
		send(msg);
	}

	function describe(e) {
		if (e && typeof e.message === "string") return e.message;
		return String(e);
	}

	globalThis.bridge = {
		orphans: 0,
		decodeFailures: 0,

		register: function (name, fn) {
			if (typeof name !== "string" || name === "" || typeof fn !== "function") return false;
			if (name in handlers) return false;
			handlers[name] = fn;
			return true;
		},

		call: function (method, args, onOk, onErr) {
			var id = ++nextId;
			pending[id] = { ok: onOk, err: onErr };
			send({ method: method, params: args || [], id: id });
			return id;
		},

		notify: function (method, args) {
			send({ method: method, params: args || [] });
		},

		cancel: function (id) {
			if (!(id in pending)) return false;
			delete pending[id];
			return true;
		},

		pendingCount: function () {
			return Object.keys(pending).length;
		},

		receive: function (text) {
			var msg;
			try {
				msg = JSON.parse(text);
			} catch (e) {
				this.decodeFailures++;
				return;
			}

			if (typeof msg.method === "string") {
				var fn = handlers[msg.method];
				if (!fn) {
					reply(msg.id, { error: { code: -32601, message: "UnknownMethod", data: msg.method } });
					return;
				}
				var result;
				try {
					result = fn.apply(null, msg.params || []);
				} catch (e) {
					reply(msg.id, { error: { code: -32000, message: describe(e) } });
					return;
				}
				reply(msg.id, { result: result === undefined ? null : result });
				return;
			}

			var p = pending[msg.id];
			if (!p) {
				this.orphans++;
				return;
			}
			delete pending[msg.id];
			if ("error" in msg) {
				if (p.err) p.err(msg.error);
			} else if (p.ok) {
				p.ok(msg.result);
			}
		}
	};
})();
`
