package browser

// Element scripts run with `this` bound to the target element.

const jsSetValue = `(value) => {
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(this, value); } else { this.value = value; }
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

const jsCaretToEnd = `() => {
	if (typeof this.setSelectionRange === 'function' && typeof this.value === 'string') {
		try { this.setSelectionRange(this.value.length, this.value.length); } catch (e) {}
	}
}`

const jsReadValue = `() => {
	if ('value' in this && typeof this.value === 'string') return this.value;
	if (this.isContentEditable) return this.innerText || '';
	return '';
}`

const jsOptions = `() => Array.from(this.options || []).map((o) => ({
	value: o.value,
	label: (o.label || o.textContent || '').trim(),
	selected: o.selected,
}))`

const jsApplySelection = `(indices) => {
	const want = new Set(indices);
	Array.from(this.options || []).forEach((o, i) => { o.selected = want.has(i); });
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

const jsEnabled = `() => ('disabled' in this) ? !this.disabled : null`

const jsField = `() => {
	const type = (this.getAttribute && this.getAttribute('type') || '').toLowerCase();
	const ac = (this.getAttribute && this.getAttribute('autocomplete') || '').toLowerCase();
	return {
		readonly: !!this.readOnly || this.getAttribute('aria-readonly') === 'true',
		maxLength: typeof this.maxLength === 'number' && this.maxLength > 0 ? this.maxLength : 0,
		passwordLike: type === 'password' || ac === 'current-password' || ac === 'new-password',
	};
}`

// jsSummary describes an element for candidate scoring.
const jsSummary = `() => {
	const tag = this.tagName.toLowerCase();
	const implicit = () => {
		const type = (this.getAttribute('type') || '').toLowerCase();
		switch (tag) {
		case 'button': return 'button';
		case 'a': return this.hasAttribute('href') ? 'link' : '';
		case 'select': return this.multiple ? 'listbox' : 'combobox';
		case 'textarea': return 'textbox';
		case 'option': return 'option';
		case 'input':
			if (['button', 'submit', 'reset', 'image'].includes(type)) return 'button';
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			return 'textbox';
		}
		return '';
	};
	const role = (this.getAttribute('role') || implicit()).toLowerCase();
	const labelled = (this.getAttribute('aria-labelledby') || '').split(/\s+/)
		.map((id) => document.getElementById(id)).filter(Boolean)
		.map((el) => el.textContent.trim()).join(' ');
	const name = (this.getAttribute('aria-label') || labelled || this.getAttribute('alt') ||
		this.getAttribute('title') || this.getAttribute('placeholder') || '').trim();
	const text = (this.innerText || this.value || '').trim().slice(0, 200);
	let selector = '';
	if (this.id) selector = '#' + CSS.escape(this.id);
	else if (this.getAttribute('data-testid')) selector = '[data-testid="' + this.getAttribute('data-testid') + '"]';
	return { tag, role, name: name || text.slice(0, 80), text, selector };
}`

// Page scripts.

const jsDOMReady = `() => new Promise((resolve) => {
	if (document.readyState !== 'loading') return resolve(true);
	document.addEventListener('DOMContentLoaded', () => resolve(true), { once: true });
})`

// jsQueryAria returns elements whose role and accessible name match.
const jsQueryAria = `(role, name, exact, limit) => {
	const implicit = (el) => {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		switch (tag) {
		case 'button': return 'button';
		case 'a': return el.hasAttribute('href') ? 'link' : '';
		case 'select': return el.multiple ? 'listbox' : 'combobox';
		case 'textarea': return 'textbox';
		case 'option': return 'option';
		case 'input':
			if (['button', 'submit', 'reset', 'image'].includes(type)) return 'button';
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			return 'textbox';
		}
		return '';
	};
	const norm = (s) => (s || '').trim().toLowerCase();
	const want = norm(name);
	const out = [];
	for (const el of document.querySelectorAll('*')) {
		if (out.length >= limit) break;
		const r = norm(el.getAttribute('role') || implicit(el));
		if (role && r !== norm(role)) continue;
		if (want) {
			const n = norm(el.getAttribute('aria-label') || el.getAttribute('title') ||
				el.getAttribute('placeholder') || el.innerText);
			if (exact ? n !== want : !n.includes(want)) continue;
		}
		out.push(el);
	}
	return out;
}`

// jsQueryText returns the innermost elements whose own text matches.
const jsQueryText = `(text, exact, limit) => {
	const want = (text || '').trim().toLowerCase();
	if (!want) return [];
	const out = [];
	for (const el of document.body ? document.body.querySelectorAll('*') : []) {
		if (out.length >= limit) break;
		if (['SCRIPT', 'STYLE', 'NOSCRIPT'].includes(el.tagName)) continue;
		const t = (el.innerText || el.value || '').trim().toLowerCase();
		if (exact ? t !== want : !t.includes(want)) continue;
		const inner = Array.from(el.children).some((c) => {
			const ct = (c.innerText || '').trim().toLowerCase();
			return exact ? ct === want : ct.includes(want);
		});
		if (!inner) out.push(el);
	}
	return out;
}`

// jsObserve starts counting mutated nodes under a token.
const jsObserve = `(token) => {
	const w = window;
	w.__actionObservers = w.__actionObservers || {};
	const seen = new Set();
	const obs = new MutationObserver((records) => {
		for (const r of records) {
			seen.add(r.target);
			r.addedNodes.forEach((n) => seen.add(n));
			r.removedNodes.forEach((n) => seen.add(n));
		}
	});
	obs.observe(document.documentElement || document, { subtree: true, childList: true, attributes: true, characterData: true });
	w.__actionObservers[token] = { obs, seen };
	return document.getElementsByTagName('*').length;
}`

// jsCollect stops the observer for a token and returns the changed node count.
const jsCollect = `(token) => {
	const w = window;
	const entry = w.__actionObservers && w.__actionObservers[token];
	if (!entry) return -1;
	for (const r of entry.obs.takeRecords()) {
		entry.seen.add(r.target);
		r.addedNodes.forEach((n) => entry.seen.add(n));
		r.removedNodes.forEach((n) => entry.seen.add(n));
	}
	entry.obs.disconnect();
	delete w.__actionObservers[token];
	return entry.seen.size;
}`

const jsActiveElement = `() => document.activeElement`

const jsNodeCount = `() => document.getElementsByTagName('*').length`
