package observer

import (
	"encoding/json"
	"fmt"

	"github.com/genricoloni/playsync/internal/domain"
)

const bindingName = "__playsyncMedia__"

// bootstrapScript forwards media element events through the binding and
// records navigator.mediaSession action handlers as the page registers them
const bootstrapScript = `
(function() {
  if (window.__playsyncInitialized__) return;
  window.__playsyncInitialized__ = true;

  window.__playsyncHandlers__ = window.__playsyncHandlers__ || {};
  try {
    const ms = navigator.mediaSession;
    if (ms && !ms.__playsyncWrapped__) {
      const orig = ms.setActionHandler.bind(ms);
      ms.setActionHandler = function(action, handler) {
        window.__playsyncHandlers__[action] = handler;
        return orig(action, handler);
      };
      ms.__playsyncWrapped__ = true;
    }
  } catch (e) {}

  const EVENTS = ['timeupdate', 'play', 'pause', 'durationchange', 'ended', 'seeking', 'seeked'];
  EVENTS.forEach(function(name) {
    document.addEventListener(name, function(ev) {
      if (!(ev.target instanceof HTMLVideoElement)) return;
      if (typeof window.__playsyncMedia__ !== 'function') return;
      try { window.__playsyncMedia__(name); } catch (e) {}
    }, true);
  });
})();
`

// probeScript reads every <video> element and the player bar. It evaluates to
// a JSON string, or null when the player bar is not rendered.
const probeScript = `
(function() {
  const bar = document.querySelector('ytmusic-player-bar');
  const videos = Array.from(document.querySelectorAll('video')).map(function(v) {
    const r = v.getBoundingClientRect();
    return {
      currentTime: isFinite(v.currentTime) ? v.currentTime : 0,
      duration: isFinite(v.duration) ? v.duration : 0,
      paused: v.paused,
      ended: v.ended,
      readyState: v.readyState,
      width: Math.round(r.width),
      height: Math.round(r.height),
      src: v.currentSrc || v.src || ''
    };
  });
  if (!bar && videos.length === 0) return null;

  const text = function(sel) {
    const el = bar && bar.querySelector(sel);
    return el ? (el.textContent || '').trim() : '';
  };
  const linkID = function(sel, prefix) {
    const a = bar && bar.querySelector(sel);
    if (!a) return '';
    const href = a.getAttribute('href') || '';
    const i = href.indexOf(prefix);
    return i >= 0 ? href.slice(i + prefix.length).split(/[?&#]/)[0] : '';
  };

  const ms = navigator.mediaSession && navigator.mediaSession.metadata;
  const artwork = ms && ms.artwork ? Array.from(ms.artwork).map(function(a) {
    const parts = (a.sizes || '').split('x');
    return { url: a.src, width: parseInt(parts[0], 10) || 0, height: parseInt(parts[1], 10) || 0 };
  }) : [];

  let videoId = '';
  try { videoId = new URL(location.href).searchParams.get('v') || ''; } catch (e) {}
  if (!videoId) {
    const link = document.querySelector('a.ytp-title-link');
    if (link) {
      try { videoId = new URL(link.href).searchParams.get('v') || ''; } catch (e) {}
    }
  }

  const like = document.querySelector('ytmusic-player-bar ytmusic-like-button-renderer');
  return JSON.stringify({
    url: location.href,
    videos: videos,
    title: (ms && ms.title) || text('.title'),
    artist: (ms && ms.artist) || text('.byline a'),
    album: (ms && ms.album) || '',
    artistId: linkID('.byline a[href*="channel/"]', 'channel/'),
    albumId: linkID('.byline a[href*="browse/MPRE"]', 'browse/'),
    videoId: videoId,
    likeStatus: like ? (like.getAttribute('like-status') || '') : '',
    artwork: artwork,
    shuffle: !!(bar && bar.hasAttribute('shuffle-on_')),
    repeat: bar ? (bar.getAttribute('repeat-mode_') || 'NONE') : 'NONE'
  });
})()
`

// controlTemplate invokes a recorded mediaSession handler when one exists and
// falls back to manipulating the element or clicking player bar buttons.
// It evaluates to "handler", "element" or "missing".
const controlTemplate = `
(function(action, position) {
  const handlers = window.__playsyncHandlers__ || {};
  const native = {play: 'play', pause: 'pause', next: 'nexttrack', previous: 'previoustrack', seek: 'seekto'}[action];
  if (native && typeof handlers[native] === 'function') {
    try {
      handlers[native](native === 'seekto' ? {action: native, seekTime: position} : {action: native});
      return 'handler';
    } catch (e) {}
  }

  const video = document.querySelector('video');
  const click = function(sel) {
    const el = document.querySelector(sel);
    if (!el) return 'missing';
    el.click();
    return 'element';
  };
  switch (action) {
    case 'play': if (!video) return 'missing'; video.play(); return 'element';
    case 'pause': if (!video) return 'missing'; video.pause(); return 'element';
    case 'seek': if (!video) return 'missing'; video.currentTime = position; return 'element';
    case 'next': return click('ytmusic-player-bar .next-button');
    case 'previous': return click('ytmusic-player-bar .previous-button');
    case 'shuffle': return click('ytmusic-player-bar .shuffle');
    case 'repeat': return click('ytmusic-player-bar .repeat');
  }
  return 'missing';
})(%s, %s)
`

func controlScript(cmd domain.Command) (string, error) {
	action, err := json.Marshal(string(cmd.Action))
	if err != nil {
		return "", err
	}
	pos, err := json.Marshal(cmd.Position)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(controlTemplate, action, pos), nil
}
